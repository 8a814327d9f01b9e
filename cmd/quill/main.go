// Command quill runs the Quill token authority.
//
//	quill serve                      run the HTTP server, websocket gateway and sweeper
//	quill migrate up|down|status     manage the database schema
//	quill sweep [--retention=720h]   purge expired refresh tokens once and exit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"quill/cmd/internal/app"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "quill:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	flagSet := pflag.NewFlagSet("quill", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	envFile := flagSet.String("env-file", ".env", "load environment variables from this file if it exists")
	retention := flagSet.Duration("retention", 0, "sweep: purge records expired longer ago than this (default QUILL_SWEEP_RETENTION)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(true)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return errors.New("missing command")
	}

	if err := app.LoadDotEnv(*envFile); err != nil {
		return fmt.Errorf("env file %s: %w", *envFile, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch rest[0] {
	case "serve":
		return app.Serve(ctx)

	case "migrate":
		if len(rest) != 2 {
			return errors.New("usage: quill migrate up|down|status")
		}
		return app.Migrate(ctx, rest[1])

	case "sweep":
		if *retention < 0 {
			return fmt.Errorf("--retention must be positive, got %s", *retention)
		}
		start := time.Now()
		n, err := app.SweepOnce(ctx, *retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "purged %d refresh tokens in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil

	default:
		printHelp(stderr, flagSet)
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `Quill token authority.

Usage:
  quill [flags] serve
  quill [flags] migrate up|down|status
  quill [flags] sweep [--retention=720h]

Flags:
`)
	fmt.Fprint(w, flagSet.FlagUsages())
}
