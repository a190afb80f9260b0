package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"dugsi-admin/auth"
	"dugsi-admin/config"
	"dugsi-admin/conn"
	"dugsi-admin/migrations"
	"dugsi-admin/revalidate"
	"dugsi-admin/telemetry"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "dugsi-admin",
		Short:         "Dugsi program admin backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		log.Printf("[MAIN][error] %v", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			host, _ := os.Hostname()
			telemetry.Init(cfg.RollbarToken, cfg.Env, host)
			defer telemetry.Close()

			db, err := conn.NewMySQL(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if !skipMigrate {
				if err := migrations.Migrate(cmd.Context(), db); err != nil {
					return err
				}
			}

			h, err := buildHandlers(cfg, db, revalidate.New(cfg.CacheEntries))
			if err != nil {
				return err
			}
			if !cfg.Debug {
				gin.SetMode(gin.ReleaseMode)
			}
			router := setupRouter(h, auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL), db.Ping)
			return listen(cmd.Context(), cfg.Addr, router)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not create missing tables on start")
	return cmd
}

func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Printf("[MAIN] listening addr=%s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serving http")
	case <-ctx.Done():
		log.Printf("[MAIN] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "shutting down")
	}
}

func migrateCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			db, err := conn.NewMySQL(cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := migrations.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			if seed {
				if cfg.Env == "PROD" {
					return errors.New("refusing to seed a PROD database")
				}
				return migrations.SeedDev(cmd.Context(), db)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert development families, classes and teachers")
	return cmd
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <admin-email>",
		Short: "Issue an admin API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			token, exp, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL).Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
}
