// Package gcs persists results to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// ResultStore writes one JSON object per persisted result.
type ResultStore struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

// New creates a GCS-backed result sink.
func New(client *storage.Client, cfg Config) (*ResultStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &ResultStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Write uploads result under <prefix>/<host>/<timestamp>.json.
func (s *ResultStore) Write(ctx context.Context, result scrape.Result) error {
	payload, err := json.Marshal(struct {
		SourceURL string           `json:"source_url"`
		Data      []scrape.Summary `json:"data"`
	}{SourceURL: result.SourceURL, Data: result.Data})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.put(ctx, s.objectName(result.SourceURL), bytes.NewReader(payload))
}

func (s *ResultStore) put(ctx context.Context, name string, r io.Reader) error {
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.ChunkSize = 0
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object gs://%s/%s: %w (close writer: %v)", s.bucket, name, err, closeErr)
		}
		return fmt.Errorf("copy object gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

func (s *ResultStore) objectName(sourceURL string) string {
	host := "unknown"
	if u, err := url.Parse(sourceURL); err == nil && u.Hostname() != "" {
		host = strings.ToLower(u.Hostname())
	}
	name := fmt.Sprintf("%s/%s.json", host, s.now().Format("20060102T150405.000000000Z"))
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
