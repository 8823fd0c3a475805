package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"parlor/internal/auth"
	"parlor/internal/commands"
	"parlor/internal/config"
	"parlor/internal/http"
	"parlor/internal/lobby"
	"parlor/internal/party"
	"parlor/internal/rpc"
	"parlor/internal/storage"
	"parlor/internal/users"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("parlor", flag.ContinueOnError)
	removeRoom := flags.String("remove-room", "", "Room id to remove from the lobby of a running server")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *removeRoom != "")
	if err != nil {
		return err
	}

	setupLogging(cfg)

	if *removeRoom != "" {
		return commands.RemoveRoom(ctx, *removeRoom, cfg, os.Stdout)
	}

	backend, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer verifier.Close()

	gate, err := auth.NewGate(ctx, auth.Config{APIKey: cfg.APIKey, CacheTTL: cfg.ClaimsCacheTTL}, verifier)
	if err != nil {
		return err
	}

	client := rpc.NewClient(cfg.BaseURL, cfg.APIKey, cfg.RPCTimeout)

	lb := lobby.New(ctx, lobby.Config{
		Store:               backend.Namespace("lobby/" + rpc.LobbyID),
		Rooms:               rpc.NewRoomClient(client),
		LiveMembership:      cfg.LobbyLiveMembership,
		BroadcastMembership: cfg.LobbyBroadcastMembership,
	})
	go lb.Run()

	us := users.New(ctx)
	go us.Run()

	registry := party.NewRegistry(ctx, party.Config{
		Gate:         gate,
		Backend:      backend,
		Lobby:        lb,
		Users:        us,
		LobbyClient:  rpc.NewLobbyClient(client),
		CloseGrace:   cfg.CloseGrace,
		HistoryLimit: cfg.RoomHistoryLimit,
		IdleTimeout:  cfg.RoomIdleTimeout,
	})
	defer registry.Shutdown()

	health := backend.Namespace("health")
	adminServer := http.NewAdminServer(cfg.AdminAddr, func(ctx context.Context) error {
		_, _, err := health.Get(ctx, "ping")
		return err
	})
	apiServer := http.NewAPIServer(registry.Handler(), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api server shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage {
	case config.StorageRedis:
		return storage.NewRedisStorage(ctx, cfg.RedisAddr, cfg.RedisDB)
	case config.StorageMemory:
		return storage.NewMemoryStorage(), nil
	default:
		return storage.NewBboltStorage(cfg.DBFile)
	}
}

func newVerifier(ctx context.Context, cfg *config.Config) (*auth.JWTVerifier, error) {
	if cfg.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.TokenIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to load JWKS: %w", err)
		}
		return v, nil
	}

	slog.Warn("verifying tokens with DEV_TOKEN_SECRET; do not use in production")
	return auth.NewHMACVerifier(cfg.DevTokenSecret, cfg.TokenIssuer), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
