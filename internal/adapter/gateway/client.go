// Package gateway provides the HTTP client for the model gateway. The
// gateway fronts the actual model providers; this client only speaks its
// streaming task API and its verification endpoint.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kriptik-ai/devmode/internal/config"
	"github.com/kriptik-ai/devmode/internal/port/generation"
)

// Client talks to the model gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client from configuration.
func NewClient(cfg config.Gateway) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate starts a streaming generation task. The response body is a
// newline-delimited JSON stream of chunks; the returned Stream decodes it
// lazily so the caller controls backpressure.
func (c *Client) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway generate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway generate: status %d: %s", resp.StatusCode, msg)
	}

	return &stream{
		body:    resp.Body,
		scanner: newChunkScanner(resp.Body),
	}, nil
}

// stream decodes newline-delimited JSON chunks from the response body.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newChunkScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	// Text chunks can carry whole files.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

func (s *stream) Recv() (generation.Chunk, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generation.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return generation.Chunk{}, fmt.Errorf("decode chunk: %w", err)
		}
		return chunk, nil
	}
	if err := s.scanner.Err(); err != nil {
		return generation.Chunk{}, fmt.Errorf("read stream: %w", err)
	}
	return generation.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	return s.body.Close()
}
