package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/autopilot/internal/auth"
	"github.com/mistakeknot/autopilot/internal/cli"
	httpapi "github.com/mistakeknot/autopilot/internal/http"
	"github.com/mistakeknot/autopilot/internal/orchestrator"
	"github.com/mistakeknot/autopilot/internal/server"
	"github.com/mistakeknot/autopilot/internal/storage/sqlite"
	"github.com/mistakeknot/autopilot/internal/uibus"
	"github.com/mistakeknot/autopilot/internal/ws"
)

func main() {
	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Autopilot session orchestrator and UI command bus",
	}
	root.AddCommand(serveCmd(), initCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		addr       string
		socketPath string
		dbPath     string
		keysFile   string
		retention  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the autopilot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			inner, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("store init: %w", err)
			}
			defer inner.Close()
			store := sqlite.NewResilient(inner)

			sweeper := sqlite.NewSweeper(inner, time.Hour, retention)
			sweeper.Start(context.Background())
			defer sweeper.Stop()

			if keysFile == "" {
				keysFile = auth.ResolveKeysPath()
			}
			keyring, err := auth.LoadKeyring(keysFile)
			if err != nil {
				return fmt.Errorf("auth init: %w", err)
			}

			hub := ws.NewHub()
			bus := uibus.New(store).WithPublisher(hub)
			orch := orchestrator.New(store, bus, devRunner{}).WithPublisher(hub)
			svc := httpapi.NewService(orch, bus).WithAgentHandler(devAgentHandler)
			router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring))

			srv, err := server.New(server.Config{
				Addr:       addr,
				SocketPath: socketPath,
				Handler:    router,
			})
			if err != nil {
				return fmt.Errorf("server init: %w", err)
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errc:
				return err
			case sig := <-stop:
				log.Printf("received %s, shutting down", sig)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			return orch.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7341", "listen address")
	cmd.Flags().StringVar(&socketPath, "socket", "", "optional unix socket path")
	cmd.Flags().StringVar(&dbPath, "db", "autopilot.db", "sqlite database path")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "api keys file (default: AUTOPILOT_KEYS_FILE or ./autopilot.keys.yaml)")
	cmd.Flags().DurationVar(&retention, "ack-retention", 24*time.Hour, "how long acknowledged UI commands are kept")
	return cmd
}

func initCmd() *cobra.Command {
	var (
		project  string
		keysFile string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an API key for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysFile == "" {
				keysFile = auth.ResolveKeysPath()
			}
			key, err := cli.InitKeysFile(keysFile, project)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added key for project %q to %s:\n%s\n", project, keysFile, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "dev", "project the key grants access to")
	cmd.Flags().StringVar(&keysFile, "keys-file", "", "api keys file (default: AUTOPILOT_KEYS_FILE or ./autopilot.keys.yaml)")
	return cmd
}
