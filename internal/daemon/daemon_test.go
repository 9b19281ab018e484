package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/mirror/internal/api"
	"github.com/matheus3301/mirror/internal/bus"
	"github.com/matheus3301/mirror/internal/config"
	"github.com/matheus3301/mirror/internal/profile"
	"github.com/matheus3301/mirror/internal/status"
	"github.com/matheus3301/mirror/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// shortTempDir keeps Unix socket paths under the 104-char macOS limit.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func healthClient(t *testing.T, socketPath string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func waitServing(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
		if err == nil {
			if last = resp.Status; last == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("health status = %v, want %v", last, want)
}

func TestHealthReflectsStatusMachine(t *testing.T) {
	socketPath := filepath.Join(shortTempDir(t, "mirror-health-*"), "d.sock")

	b := bus.New()
	machine := status.NewMachine(b)
	srv, err := NewServer(Params{ProfileName: "test", SocketPath: socketPath}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	srv.Watch(b, machine)
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	client := healthClient(t, socketPath)
	waitServing(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	_ = machine.Transition(status.Idle)
	waitServing(t, client, healthpb.HealthCheckResponse_SERVING)

	_ = machine.Transition(status.Error)
	waitServing(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestHTTPServerServesAPI(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	handlers := api.NewServer(api.Deps{Profile: "test", DB: db, Machine: status.NewMachine(nil)}, nil)
	srv, err := NewHTTPServer("127.0.0.1:0", handlers, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var got api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Profile != "test" || got.Status != string(status.Booting) {
		t.Errorf("status = %+v", got)
	}
}

// TestFxModuleWiring boots the whole daemon against fake upstreams and checks
// that the first scheduled pass completes and the daemon settles in IDLE.
func TestFxModuleWiring(t *testing.T) {
	home := shortTempDir(t, "mirror-fx-*")
	t.Setenv("MIRROR_HOME", home)

	upstream := http.NewServeMux()
	upstream.HandleFunc("/v1/chats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items": [], "cursors": {"newest": "n1", "oldest": "o1"}}`))
	})
	upstream.HandleFunc("/graphql", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"contacts": []}}`))
	})
	fake := httptest.NewServer(upstream)
	defer fake.Close()

	cfg := config.Default()
	cfg.ChatAPIURL = fake.URL
	cfg.CRMURL = fake.URL + "/graphql"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ChatInterval = "1h"
	cfg.ContactInterval = "1h"

	var httpSrv *HTTPServer
	app := fx.New(
		Module(Params{ProfileName: "fxtest", Config: cfg}),
		fx.Populate(&httpSrv),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}

	// A second daemon for the same profile is refused.
	if _, err := profile.AcquireLock("fxtest"); err == nil {
		t.Error("profile lock not held while the daemon runs")
	}

	var got api.StatusResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + httpSrv.Addr() + "/status")
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&got)
			_ = resp.Body.Close()
			if got.Status == string(status.Idle) && got.LastListSyncAt > 0 {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got.Status != string(status.Idle) || got.LastListSyncAt == 0 {
		t.Errorf("status after first pass = %+v", got)
	}

	waitServing(t, healthClient(t, profile.SocketPath("fxtest")), healthpb.HealthCheckResponse_SERVING)

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("app.Stop() error = %v", err)
	}
	if _, ok := profile.LockHolder("fxtest"); ok {
		t.Error("profile lock still recorded after stop")
	}
	if _, err := os.Stat(profile.SocketPath("fxtest")); !os.IsNotExist(err) {
		t.Errorf("socket left behind: %v", err)
	}
}

// TestModuleRequiresUpstreams verifies startup fails fast without a chat API URL.
func TestModuleRequiresUpstreams(t *testing.T) {
	t.Setenv("MIRROR_HOME", shortTempDir(t, "mirror-cfg-*"))

	cfg := config.Default()
	cfg.CRMURL = "http://127.0.0.1:1/graphql"
	cfg.HTTPAddr = "127.0.0.1:0"
	app := fx.New(Module(Params{ProfileName: "cfgtest", Config: cfg}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("expected wiring error for missing chat_api_url")
	}
}
