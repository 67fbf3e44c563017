package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/callvault/internal/adapters/http"
	"github.com/dkeye/callvault/internal/adapters/rtc"
	"github.com/dkeye/callvault/internal/adapters/store"
	"github.com/dkeye/callvault/internal/app"
	"github.com/dkeye/callvault/internal/app/call"
	"github.com/dkeye/callvault/internal/app/orch"
	"github.com/dkeye/callvault/internal/config"
	"github.com/dkeye/callvault/internal/core"
)

var rootCmd = &cobra.Command{
	Use:           "callvault",
	Short:         "CallVault signaling server",
	Long:          `CallVault registers peers over WebSocket, routes messages and call-control events between them and hands out ICE configuration for direct media.`,
	Version:       router.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	RunE:  runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("port", 3000, "HTTP listen port")
	flags.String("mode", "release", "gin mode: debug or release")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("db", "", "sqlite database path; empty runs in demo mode")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("callvault")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	setupLogger(cfg)

	st := openStore(cfg.Database.Path)
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("store close")
		}
	}()

	shield := app.NewFreeTierShield(st, cfg.FreeTier)
	shield.Start(ctx)
	ice := rtc.NewICEProvider(cfg.WebRTC)

	o := orch.New(orch.Deps{
		Policy: app.PolicyFromConfig(cfg.Signaling.SlowPeerAction),
		Nonces: app.NewNonceWindow(cfg.Router.NonceWindow, cfg.Router.NonceSenders, cfg.Router.NonceTTL),
		Shield: shield,
		Tokens: app.NewTokenService(shield, ice, st, cfg.Tokens.TTL),
		Store:  st,
		CallTimes: call.Config{
			RingTimeout:   cfg.Calls.RingTimeout,
			AnswerTimeout: cfg.Calls.AnswerTimeout,
			Retention:     cfg.Calls.Retention,
		},
	})
	defer o.Close()

	if sq, ok := st.(*store.SQLite); ok {
		go pruneTokens(ctx, sq, cfg.Tokens.TTL)
	}

	r, err := router.SetupRouter(ctx, cfg, o, ice)
	if err != nil {
		return fmt.Errorf("router setup: %w", err)
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Bool("database", cfg.Database.Path != "").Msg("CallVault server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// openStore falls back to demo mode when the database cannot be opened.
func openStore(path string) core.Store {
	if path == "" {
		log.Warn().Str("module", "main").Msg("no database configured, running in demo mode")
		return core.NoStore{}
	}
	st, err := store.Open(path)
	if err != nil {
		log.Error().Err(err).Str("module", "main").Str("path", path).Msg("database unavailable, running in demo mode")
		return core.NoStore{}
	}
	return st
}

func pruneTokens(ctx context.Context, st *store.SQLite, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PruneTokens(ctx, time.Now().Add(-ttl))
			if err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("token prune")
				continue
			}
			log.Debug().Str("module", "main").Int64("pruned", n).Msg("expired tokens pruned")
		}
	}
}
