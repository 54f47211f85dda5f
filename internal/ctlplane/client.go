// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
)

// Client talks to the control API.
type Client struct {
	base   string
	http   *http.Client
	dialer *websocket.Dialer
}

// NewClient returns a client for the unix socket at path.
func NewClient(path string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
	return &Client{
		base: "http://procwall",
		http: &http.Client{
			Transport: &http.Transport{DialContext: dial},
			Timeout:   30 * time.Second,
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewHTTPClient returns a client for a TCP base URL such as http://127.0.0.1:9641.
func NewHTTPClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   hc,
		dialer: websocket.DefaultDialer,
	}
}

// Status fetches the daemon summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Connections lists the connection map.
func (c *Client) Connections(ctx context.Context) ([]correlator.ConnectionView, error) {
	var out []correlator.ConnectionView
	err := c.do(ctx, http.MethodGet, "/api/v1/connections", nil, &out)
	return out, err
}

// Pending lists held packets.
func (c *Client) Pending(ctx context.Context) ([]correlator.PendingView, error) {
	var out []correlator.PendingView
	err := c.do(ctx, http.MethodGet, "/api/v1/pending", nil, &out)
	return out, err
}

// Rules lists rules in evaluation order.
func (c *Client) Rules(ctx context.Context) ([]engine.Rule, error) {
	var out []engine.Rule
	err := c.do(ctx, http.MethodGet, "/api/v1/rules", nil, &out)
	return out, err
}

// AddRule installs r and returns it with its assigned id.
func (c *Client) AddRule(ctx context.Context, r engine.Rule) (engine.Rule, error) {
	var out engine.Rule
	err := c.do(ctx, http.MethodPost, "/api/v1/rules", r, &out)
	return out, err
}

// DeleteRule removes a rule.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rules/"+url.PathEscape(id), nil, nil)
}

// LookupDNS returns the snooped domain of addr.
func (c *Client) LookupDNS(ctx context.Context, addr string) (*Lookup, error) {
	var out Lookup
	if err := c.do(ctx, http.MethodGet, "/api/v1/dns/"+url.PathEscape(addr), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events streams prompts until ctx is done or the server hangs up. The
// channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan correlator.Prompt, error) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/events"
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to subscribe to prompts")
	}

	out := make(chan correlator.Prompt)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var p correlator.Prompt
			if err := conn.ReadJSON(&p); err != nil {
				return
			}
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to encode request")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "control socket unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if e.Details != "" {
			msg = fmt.Sprintf("%s: %s", e.Error, e.Details)
		}
		if msg == "" {
			msg = resp.Status
		}
		return errors.Attr(errors.New(kindFor(resp.StatusCode), msg), "status", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to decode response")
	}
	return nil
}

func kindFor(status int) errors.Kind {
	switch status {
	case http.StatusBadRequest:
		return errors.KindValidation
	case http.StatusNotFound:
		return errors.KindNotFound
	case http.StatusConflict:
		return errors.KindConflict
	case http.StatusForbidden:
		return errors.KindPermission
	case http.StatusServiceUnavailable:
		return errors.KindUnavailable
	default:
		return errors.KindInternal
	}
}
