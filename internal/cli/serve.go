package cli

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/resmoai/resmo-auth/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resmo web pages",
		Long: `Serve the landing page, the login and registration forms and the
dashboard. Dashboard pages wait for the session to settle and redirect
signed out visitors to the login page.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (defaults to RESMO_HTTP_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	csrfKey := sha256.Sum256([]byte("csrf:" + cfg.GetSigningKey()))
	opts := []web.Option{
		web.WithLogger(logger),
		web.WithCSRF(csrfKey[:]),
		web.WithResumes(a.resumes),
		web.WithFiberConfig(fiber.Config{
			DisableStartupMessage: true,
			ReadTimeout:           cfg.HTTP.ReadTimeout,
			WriteTimeout:          cfg.HTTP.WriteTimeout,
			BodyLimit:             cfg.HTTP.BodyLimit,
		}),
	}
	if a.local != nil {
		opts = append(opts, web.WithAccounts(a.local), web.WithRegistrar(a.local))
	}

	server, err := web.New(a.manager, opts...)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down web server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
