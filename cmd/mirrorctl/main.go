package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/mirror/internal/config"
	"github.com/matheus3301/mirror/internal/profile"
	"github.com/urfave/cli/v2"
)

type contextKey int

const contextKeyClient contextKey = iota

func getClient(ctx *cli.Context) *daemonClient {
	return ctx.Context.Value(contextKeyClient).(*daemonClient)
}

func prepareApp(ctx *cli.Context) error {
	name := profile.Resolve(ctx.String("profile"))
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	addr := ctx.String("addr")
	if addr == "" {
		cfg, err := config.LoadOrDefault(profile.ConfigPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.HTTPAddr
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyClient, newDaemonClient(name, "http://"+addr))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "mirrorctl",
		Usage: "Drive a running mirrord",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Profile name (overrides config default)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Daemon HTTP address (overrides config http_addr)",
			},
		},
		Before: prepareApp,
		Commands: []*cli.Command{
			statusCommand,
			syncCommand,
			rematchCommand,
			duplicatesCommand,
			contactCommand,
			chatCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
