package content

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageLength caps a chat message, in runes, after sanitizing.
const MaxMessageLength = 4000

var (
	policy       = bluemonday.UGCPolicy()
	strictPolicy = bluemonday.StrictPolicy()
	roomIDRegex  = regexp.MustCompile(`^[A-Z0-9]{5}$`)

	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

// Sanitize removes unsafe HTML from the input string using the UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Message sanitizes and trims chat text and rejects empty or oversized results.
func Message(input string) (string, error) {
	text := strings.TrimSpace(Sanitize(input))
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// DisplayName strips every tag from a name taken from token claims.
func DisplayName(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(input))
}

// ValidRoomID reports whether id looks like a directory room id: five of A-Z or 0-9.
func ValidRoomID(id string) bool {
	return roomIDRegex.MatchString(id)
}
