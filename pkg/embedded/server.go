// Package embedded runs an autopilot server in-process, for host
// applications that link the orchestrator instead of shelling out to the
// standalone binary. The host supplies the Runner that executes agent
// steps; everything else (store, bus, hub, HTTP surface) is wired here.
package embedded

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/autopilot/internal/auth"
	httpapi "github.com/mistakeknot/autopilot/internal/http"
	"github.com/mistakeknot/autopilot/internal/orchestrator"
	"github.com/mistakeknot/autopilot/internal/storage/sqlite"
	"github.com/mistakeknot/autopilot/internal/uibus"
	"github.com/mistakeknot/autopilot/internal/ws"
)

type Config struct {
	// DBPath is the SQLite database file. Defaults to
	// ~/.autopilot/autopilot.db.
	DBPath string

	// Port defaults to 7341.
	Port int

	// Host defaults to 127.0.0.1.
	Host string

	// Runner executes agent steps. Required.
	Runner orchestrator.Runner

	// RequireAuth loads the keyring from the environment and enforces
	// bearer auth for non-localhost callers.
	RequireAuth bool

	// AckRetention bounds how long acknowledged UI commands are kept
	// before the sweeper purges them. Defaults to 24h.
	AckRetention time.Duration
}

type Server struct {
	cfg     Config
	store   *sqlite.ResilientStore
	sweeper *sqlite.Sweeper
	hub     *ws.Hub
	orch    *orchestrator.Orchestrator
	bus     *uibus.Bus
	http    *http.Server
	started bool
	mu      sync.Mutex
}

func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".autopilot", "autopilot.db")
	}
	if cfg.Port == 0 {
		cfg.Port = 7341
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.AckRetention == 0 {
		cfg.AckRetention = 24 * time.Hour
	}

	inner, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store := sqlite.NewResilient(inner)
	sweeper := sqlite.NewSweeper(inner, time.Hour, cfg.AckRetention)

	hub := ws.NewHub()
	bus := uibus.New(store).WithPublisher(hub)
	orch := orchestrator.New(store, bus, cfg.Runner).WithPublisher(hub)

	var mw func(http.Handler) http.Handler
	if cfg.RequireAuth {
		keyring, err := auth.LoadKeyringFromEnv()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load auth: %w", err)
		}
		mw = auth.Middleware(keyring)
	}

	svc := httpapi.NewService(orch, bus)
	router := httpapi.NewRouter(svc, hub.Handler(), mw)

	return &Server{
		cfg:     cfg,
		store:   store,
		sweeper: sweeper,
		hub:     hub,
		orch:    orch,
		bus:     bus,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: router,
		},
	}, nil
}

// Start serves in a goroutine and returns once the listener is up.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.sweeper.Start(context.Background())
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "autopilot server error: %v\n", err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	return nil
}

// Stop shuts down the HTTP surface, then waits for execution loops to
// reach their next checkpoint, then closes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if shutdownErr := s.orch.Shutdown(ctx); err == nil {
		err = shutdownErr
	}
	s.sweeper.Stop()
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Orchestrator exposes the session orchestrator for direct in-process use.
func (s *Server) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Bus exposes the UI command bus for direct in-process use.
func (s *Server) Bus() *uibus.Bus { return s.bus }

func (s *Server) Addr() string { return s.http.Addr }

func (s *Server) URL() string { return fmt.Sprintf("http://%s", s.http.Addr) }
