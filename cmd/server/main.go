package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/authbridge/internal/config"
	"github.com/jrsteele09/authbridge/internal/postgres"
	"github.com/jrsteele09/authbridge/server"
	fakesessionrepo "github.com/jrsteele09/authbridge/sessions/repofakes"
	fakeuserrepo "github.com/jrsteele09/authbridge/users/repofake"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const sessionPurgeInterval = time.Hour

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, opts, closeStore, err := openStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := server.New(c, repos, opts...)
	if err != nil {
		return err
	}
	go purgeExpiredSessions(ctx, handler)

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() { errs <- listenAndServe(srv) }()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func setupLogging(c config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if c.IsDevelopment() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("app", c.GetAppName()).Logger()
}

// openStore connects to Postgres when DATABASE_URL is set, otherwise it falls
// back to the in-memory stores.
func openStore(ctx context.Context, c config.Config) (server.Repos, []server.Option, func(), error) {
	dsn := c.GetDatabaseURL()
	if dsn == "" {
		if !c.IsDevelopment() {
			log.Warn().Msg("DATABASE_URL not set, sessions will not survive a restart")
		}
		repos := server.Repos{
			Users:    fakeuserrepo.NewFakeUserRepo(),
			Sessions: fakesessionrepo.NewFakeSessionRepo(),
		}
		return repos, nil, func() {}, nil
	}

	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		return server.Repos{}, nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return server.Repos{}, nil, nil, err
	}
	log.Info().Msg("Connected to Postgres")

	repos := server.Repos{
		Users:    postgres.NewUserRepo(pool),
		Sessions: postgres.NewSessionRepo(pool),
	}
	opts := []server.Option{server.WithHealthCheck(func(ctx context.Context) error {
		return postgres.Ping(ctx, pool)
	})}
	return repos, opts, func() { closePool(pool) }, nil
}

func closePool(pool *pgxpool.Pool) {
	pool.Close()
	log.Info().Msg("Postgres pool closed")
}

func purgeExpiredSessions(ctx context.Context, s *server.Server) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sessions().PurgeExpired(ctx); err != nil {
				log.Err(err).Msg("Failed to purge expired sessions")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
