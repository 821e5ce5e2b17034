package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"posload/pkg/config"
	"posload/pkg/engine"
)

// maxBodyBytes bounds how much of a response body is kept for extraction.
const maxBodyBytes = 1 << 20

// Request is one templated HTTP call.
type Request struct {
	Name    string
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
	Tags    map[string]string
}

// Response is what a journey sees of a call. Status is 0 when the request
// failed before a response arrived.
type Response struct {
	Status   int
	Body     []byte
	Duration time.Duration
	Err      error
}

// Client issues journey requests against the target service, attaching the
// bearer token when one is configured and recording a sample per call.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	metrics *engine.Metrics
}

func NewClient(httpClient *http.Client, cfg config.Config, metrics *engine.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:    httpClient,
		baseURL: cfg.BaseURL,
		token:   cfg.AuthToken,
		metrics: metrics,
	}
}

// URL builds the absolute URL for path and query.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Check records a named assertion and returns ok.
func (c *Client) Check(vu engine.VU, name string, ok bool) bool {
	return c.metrics.Check(vu, name, ok)
}

// Do performs req. Calls cut short by ctx cancellation are not recorded:
// they measure the shutdown, not the service.
func (c *Client) Do(ctx context.Context, vu engine.VU, req Request) Response {
	target := c.URL(req.Path, req.Query)

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return c.record(vu, req, target, Response{Err: fmt.Errorf("encode %s body: %w", req.Name, err)})
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return c.record(vu, req, target, Response{Err: err})
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	t0 := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		res := Response{Duration: time.Since(t0), Err: err}
		if ctx.Err() != nil {
			return res
		}
		return c.record(vu, req, target, res)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	res := Response{Status: resp.StatusCode, Body: data, Duration: time.Since(t0)}
	if err != nil {
		if ctx.Err() != nil {
			res.Err = err
			return res
		}
		res.Err = fmt.Errorf("read %s body: %w", req.Name, err)
	}
	return c.record(vu, req, target, res)
}

func (c *Client) record(vu engine.VU, req Request, target string, res Response) Response {
	c.metrics.Sample(engine.Sample{
		Time:     time.Now(),
		VU:       vu.ID,
		Iter:     vu.Iteration,
		Name:     req.Name,
		Method:   req.Method,
		URL:      target,
		Status:   res.Status,
		Duration: res.Duration,
		Err:      res.Err,
		Tags:     req.Tags,
	})
	return res
}
