package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

// daemonClient calls the daemon's HTTP API.
type daemonClient struct {
	profile string
	baseURL string
	http    *http.Client
}

func newDaemonClient(profileName, baseURL string) *daemonClient {
	// List syncs and backfills can run for a while.
	return &daemonClient{profile: profileName, baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Minute}}
}

// call sends body as JSON and returns the raw response. Non-2xx responses become
// errors carrying the API's error message; 502 results are returned untouched
// so that partially successful sync results are still printed.
func (c *daemonClient) call(ctx context.Context, method, path string, q url.Values, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach daemon for profile %q: %w", c.profile, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusBadGateway {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return data, nil
}

// print writes a raw JSON response indented.
func (c *daemonClient) print(raw json.RawMessage) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	outputJSON(v)
}
