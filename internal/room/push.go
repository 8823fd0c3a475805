package room

import (
	"parlor/internal/models"
	"sync"
)

// lobbyPush is one membership report for the lobby: a join when user is set,
// otherwise a full membership update.
type lobbyPush struct {
	user  *models.User
	users []models.User
}

// pushQueue orders a room's membership reports. Mailbox steps enqueue, a
// single goroutine delivers, so the lobby applies them in mailbox order.
type pushQueue struct {
	mu      sync.Mutex
	pending []lobbyPush
	wake    chan struct{}
}

func newPushQueue() *pushQueue {
	return &pushQueue{wake: make(chan struct{}, 1)}
}

func (q *pushQueue) join(user models.User) {
	q.mu.Lock()
	q.pending = append(q.pending, lobbyPush{user: &user})
	q.mu.Unlock()
	q.signal()
}

// update supersedes everything still pending: it carries the whole membership.
func (q *pushQueue) update(users []models.User) {
	q.mu.Lock()
	q.pending = []lobbyPush{{users: users}}
	q.mu.Unlock()
	q.signal()
}

func (q *pushQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *pushQueue) take() []lobbyPush {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.pending
	q.pending = nil
	return p
}

// deliverPushes drains the queue until the room stops.
func (r *Room) deliverPushes() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.mailbox.Stopped():
			return
		case <-r.pushes.wake:
		}

		for _, p := range r.pushes.take() {
			if p.user != nil {
				if err := r.lobby.Join(r.ctx, r.id, *p.user); err != nil {
					r.logger.Warn("failed to report join to lobby", "user_id", p.user.ID, "error", err)
				}
				continue
			}
			if err := r.lobby.UpdateMembership(r.ctx, r.id, p.users); err != nil {
				r.logger.Warn("failed to push membership to lobby", "error", err)
			}
		}
	}
}
