// Package opensearch indexes lifecycle events into OpenSearch or
// Elasticsearch over plain HTTP: POST <base>/<index>/_doc.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haelod/conductr/internal/events"
)

type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e events.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
