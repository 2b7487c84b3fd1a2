// Package rpcclient broadcasts signed transactions to this node's own
// consensus host over its RPC endpoint.
package rpcclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client posts transactions to a CometBFT-compatible RPC endpoint's
// broadcast_tx_async route.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client targeting laddr, a tendermint-style listen address
// such as "tcp://127.0.0.1:26657". The scheme is rewritten to http so the
// address can be dialed directly; laddr is never hard-coded by the caller.
func New(laddr string) (*Client, error) {
	base, err := toHTTPBase(laddr)
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: base, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

func toHTTPBase(laddr string) (string, error) {
	if laddr == "" {
		return "", fmt.Errorf("rpcclient: empty rpc.laddr")
	}
	u, err := url.Parse(laddr)
	if err != nil {
		return "", fmt.Errorf("rpcclient: parse rpc.laddr %q: %w", laddr, err)
	}
	switch u.Scheme {
	case "tcp", "":
		u.Scheme = "http"
	case "http", "https":
		// already usable
	default:
		return "", fmt.Errorf("rpcclient: unsupported rpc.laddr scheme %q", u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// SendTx broadcasts pemBytes as a hex-encoded form field to
// broadcast_tx_async. Any non-2xx response is an error.
func (c *Client) SendTx(ctx context.Context, pemBytes []byte) error {
	form := url.Values{"tx": {"0x" + hex.EncodeToString(pemBytes)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/broadcast_tx_async",
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("rpcclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpcclient: broadcast_tx_async: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpcclient: broadcast_tx_async returned status %d", resp.StatusCode)
	}
	return nil
}
