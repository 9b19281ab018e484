package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/mirror/internal/daemon"
	"github.com/matheus3301/mirror/internal/profile"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Show daemon health and sync status",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "Output in JSON format"},
	},
	Action: cmdStatus,
}

// probeHealth checks the daemon's gRPC health service on the profile socket.
func probeHealth(ctx context.Context, profileName string) (string, error) {
	conn, err := grpc.NewClient(
		"unix://"+profile.SocketPath(profileName),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return "", err
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.HealthService})
	if err != nil {
		return "", err
	}
	return resp.Status.String(), nil
}

func cmdStatus(ctx *cli.Context) error {
	c := getClient(ctx)
	health, err := probeHealth(ctx.Context, c.profile)
	if err != nil {
		pid, running := profile.LockHolder(c.profile)
		if !running {
			return fmt.Errorf("daemon for profile %q is not running", c.profile)
		}
		return fmt.Errorf("daemon PID %d holds profile %q but health check failed: %w", pid, c.profile, err)
	}

	raw, err := c.call(ctx.Context, http.MethodGet, "/status", nil, nil)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		c.print(raw)
		return nil
	}

	r := gjson.ParseBytes(raw)
	fmt.Printf("Profile:  %s\n", r.Get("profile").String())
	fmt.Printf("Health:   %s\n", health)
	fmt.Printf("Status:   %s", r.Get("status").String())
	if d := r.Get("detail").String(); d != "" {
		fmt.Printf(" (%s)", d)
	}
	fmt.Println()
	fmt.Printf("Uptime:   %s\n", (time.Duration(r.Get("uptime_ms").Int()) * time.Millisecond).Round(time.Second))
	fmt.Printf("Chats:    %d\n", r.Get("chats").Int())
	fmt.Printf("Messages: %d\n", r.Get("messages").Int())
	fmt.Printf("Contacts: %d\n", r.Get("contacts").Int())
	if at := r.Get("last_list_sync_at").Int(); at > 0 {
		fmt.Printf("Last list sync: %s\n", time.UnixMilli(at).Format(time.RFC3339))
	}
	return nil
}

