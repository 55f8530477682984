// ocrch is the headless checkout-counter backend: one binary running the
// event pipeline described in SPEC_FULL.md, or applying pending schema
// migrations and exiting. Flag/command shape mirrors
// _examples/luxfi-evm/cmd/evm-node/main.go's cli.App{Name,Usage,Version}
// plus app.Before wiring the logger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/app"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/config"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

const (
	exitOK           = 0
	exitStartupError = 1
	exitMigrateError = 2
	exitSignal       = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cliApp := &cli.App{
		Name:    "ocrch",
		Usage:   "headless cryptocurrency checkout counter",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./ocrch-config.toml", Usage: "path to the config file"},
			&cli.BoolFlag{Name: "migrate", Usage: "apply pending schema migrations and exit"},
		},
		Before: func(ctx *cli.Context) error {
			obslog.SetDefault(obslog.Root())
			return nil
		},
		Action: mainAction,
		// Default ExitErrHandler calls os.Exit itself for ExitCoder
		// errors; disabled so run() owns the process exit code instead.
		ExitErrHandler: func(*cli.Context, error) {},
	}

	if err := cliApp.Run(os.Args); err != nil {
		if ec, ok := err.(exitCoder); ok {
			fmt.Fprintln(os.Stderr, err)
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return exitStartupError
	}
	return exitOK
}

type exitCoder interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }
func (e exitError) ExitCode() int { return e.code }

func mainAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return exitError{exitStartupError, fmt.Errorf("DATABASE_URL is required")}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return exitError{exitStartupError, fmt.Errorf("connect to database: %w", err)}
	}
	defer pool.Close()

	if c.Bool("migrate") {
		if err := store.Migrate(ctx, pool); err != nil {
			return exitError{exitMigrateError, fmt.Errorf("migrate: %w", err)}
		}
		obslog.Info("migrations applied")
		return nil
	}

	cfg, err := config.Load(c.String("config"), nil)
	if err != nil {
		return exitError{exitStartupError, fmt.Errorf("load config: %w", err)}
	}

	a, err := app.New(cfg, pool)
	if err != nil {
		return exitError{exitStartupError, fmt.Errorf("build app: %w", err)}
	}

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownGrace+5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		obslog.Error("shutdown did not complete cleanly", "err", err)
	}

	if ctx.Err() != nil {
		obslog.Info("shutting down on signal")
		return exitError{exitSignal, ctx.Err()}
	}
	if runErr != nil {
		return exitError{exitStartupError, runErr}
	}
	return nil
}
