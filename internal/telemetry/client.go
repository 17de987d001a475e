// Package telemetry mirrors the bridge's actuation state to a remote
// Firebase-style REST sink. Every publication is a full-state upsert keyed by
// device id, so the remote document is always the latest snapshot and lost
// pushes are healed by the next one.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/greenloop/p2pbridge/internal/httputil"
	"github.com/greenloop/p2pbridge/internal/sequencer"
)

// Payload is the upsert document. It extends the state snapshot with the
// action that triggered the push and the push time.
type Payload struct {
	sequencer.Snapshot
	Action        string `json:"action"`
	Timestamp     string `json:"timestamp"`
	UnixTimestamp int64  `json:"unix_timestamp"`
}

// NewPayload builds a Payload for the given action at the given time.
func NewPayload(action string, snap sequencer.Snapshot, now time.Time) Payload {
	return Payload{
		Snapshot:      snap,
		Action:        action,
		Timestamp:     now.UTC().Format(time.RFC3339),
		UnixTimestamp: now.Unix(),
	}
}

// Client performs upserts against the sink's REST surface.
type Client struct {
	baseURL string
	device  string
	http    httputil.HTTPClient
}

// NewClient creates a Client for the given sink base URL and device id.
// A nil HTTP client falls back to the default transport.
func NewClient(baseURL, device string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		device:  device,
		http:    hc,
	}
}

// URL returns the document URL this client upserts to.
func (c *Client) URL() string {
	return fmt.Sprintf("%s/bottle_data/%s.json", c.baseURL, c.device)
}

// Upsert replaces the remote document with the given payload.
func (c *Client) Upsert(p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding telemetry payload: %w", err)
	}

	resp, err := c.http.Put(c.URL(), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pushing telemetry: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telemetry sink returned status %d", resp.StatusCode)
	}
	return nil
}
