package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"posload/pkg/engine"
)

const postTimeout = 5 * time.Second

// Reporter streams a node's events and its final summary to a collector.
type Reporter struct {
	Node int

	baseURL string
	client  *http.Client
	log     *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewReporter targets the collector at baseURL. A URL ending in /api/report
// is accepted as well.
func NewReporter(baseURL string, node int, client *http.Client, log *slog.Logger) (*Reporter, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	base = strings.TrimSuffix(base, "/api/report")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid collector URL %q", baseURL)
	}
	if node <= 0 {
		node = 1
	}
	if client == nil {
		client = &http.Client{Timeout: postTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{Node: node, baseURL: base, client: client, log: log}, nil
}

// Run forwards events until the channel is closed. Delivery failures are
// counted and logged, never fatal.
func (r *Reporter) Run(ctx context.Context, events <-chan engine.Event) error {
	for ev := range events {
		if err := r.Report(ctx, ev); err != nil {
			r.log.Debug("Event not delivered", "err", err)
		}
	}
	if n := r.failed.Load(); n > 0 {
		r.log.Warn("Some events were not delivered", "node", r.Node, "failed", n, "sent", r.sent.Load())
	}
	return nil
}

// Report posts one event, tagging its name with the node.
func (r *Reporter) Report(ctx context.Context, ev engine.Event) error {
	ev.Name = fmt.Sprintf("[node-%d] %s", r.Node, ev.Name)
	if err := r.post(ctx, "/api/report", ev); err != nil {
		r.failed.Add(1)
		return err
	}
	r.sent.Add(1)
	return nil
}

// SendSummary posts the node's final summary.
func (r *Reporter) SendSummary(ctx context.Context, sum NodeSummary) error {
	sum.Node = r.Node
	if sum.Timestamp.IsZero() {
		sum.Timestamp = time.Now()
	}
	if err := r.post(ctx, "/api/summary", sum); err != nil {
		return fmt.Errorf("node %d could not send summary report: %w", r.Node, err)
	}
	return nil
}

// Sent returns the number of delivered events.
func (r *Reporter) Sent() int64 { return r.sent.Load() }

// Failed returns the number of events that could not be delivered.
func (r *Reporter) Failed() int64 { return r.failed.Load() }

func (r *Reporter) post(ctx context.Context, path string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector answered %s", resp.Status)
	}
	return nil
}
