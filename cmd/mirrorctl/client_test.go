package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestDaemonClientCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sync/chats":
			if r.URL.Query().Get("force") != "true" {
				t.Errorf("force = %q", r.URL.Query().Get("force"))
			}
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success": false, "error": "upstream down"}`))
		case "/contacts/c1":
			body, _ := io.ReadAll(r.Body)
			if gjson.GetBytes(body, "notes").String() != "vip" || r.Method != http.MethodPatch {
				t.Errorf("%s body = %s", r.Method, body)
			}
			_, _ = w.Write([]byte(`{"id": "c1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "contact \"x\" not found"}`))
		}
	}))
	defer srv.Close()

	c := newDaemonClient("main", srv.URL)
	ctx := context.Background()

	raw, err := c.call(ctx, http.MethodPost, "/sync/chats", url.Values{"force": {"true"}}, nil)
	if err != nil {
		t.Fatalf("502 result should be returned, got error %v", err)
	}
	if gjson.GetBytes(raw, "error").String() != "upstream down" {
		t.Errorf("raw = %s", raw)
	}

	if _, err := c.call(ctx, http.MethodPatch, "/contacts/c1", nil, map[string]string{"notes": "vip"}); err != nil {
		t.Fatal(err)
	}

	_, err = c.call(ctx, http.MethodGet, "/contacts/x", nil, nil)
	if err == nil || !strings.Contains(err.Error(), `contact "x" not found`) {
		t.Errorf("error = %v, want the API message", err)
	}
}

func TestDaemonClientUnreachable(t *testing.T) {
	c := newDaemonClient("work", "http://127.0.0.1:1")
	_, err := c.call(context.Background(), http.MethodGet, "/status", nil, nil)
	if err == nil || !strings.Contains(err.Error(), `profile "work"`) {
		t.Errorf("error = %v, want a profile-qualified error", err)
	}
}
