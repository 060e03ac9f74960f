package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/dumpkeeper/internal/config"
	"github.com/3leaps/dumpkeeper/internal/server"
	"github.com/3leaps/dumpkeeper/internal/server/handlers"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health checks and read-only queue views over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")
}

// identityHealthChecker fails when the app identity was never installed.
type identityHealthChecker struct {
	id *config.AppIdentity
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.id == nil:
		return errors.New("app identity not initialized")
	case c.id.BinaryName == "":
		return errors.New("missing binary name")
	case c.id.EnvPrefix == "":
		return errors.New("missing env prefix")
	case c.id.ConfigName == "":
		return errors.New("missing config name")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	host, port := cfg.Server.Host, cfg.Server.Port
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("store", handlers.PingChecker{Pinger: store.DB()})
	hm.RegisterChecker("identity", identityHealthChecker{id: GetAppIdentity()})

	srv := server.New(host, port,
		server.WithQueue(store),
		server.WithVersion(handlers.VersionInfo{
			Name:      "dumpkeeper",
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)
	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
	}
	return nil
}
