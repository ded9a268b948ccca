// Package storage persists pipeline artifacts (page images, assembled
// documents) under stable URLs. Provider-hosted image URLs expire within
// about a day, so every image is re-hosted here before any later stage
// references it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore persists artifacts onto the local filesystem and serves them
// through a configured public base URL. It stands in for an object store
// in development and test environments.
type FileStore struct {
	basePath string
	baseURL  string
	client   *http.Client
}

// NewFileStore initializes a FileStore rooted at basePath; baseURL is the
// public prefix under which stored keys resolve.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// URL returns the stable retrieval URL for a stored key.
func (s *FileStore) URL(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	return s.baseURL + "/" + cleanKey
}

// Write persists the provided bytes at the given relative key and returns
// the stable retrieval URL. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return s.URL(cleanKey), nil
}

// Read returns the bytes stored at key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Fetch downloads an external URL, or reads a locally stored artifact when
// the URL points under this store's base URL.
func (s *FileStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if s.baseURL != "" && strings.HasPrefix(url, s.baseURL+"/") {
		return s.Read(ctx, strings.TrimPrefix(url, s.baseURL+"/"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build fetch request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("storage: fetch %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("storage: read fetch body: %w", err)
	}
	return data, nil
}

// Rehost downloads an expiring external URL and persists it under key,
// returning the durable URL.
func (s *FileStore) Rehost(ctx context.Context, externalURL, key string) (string, error) {
	data, err := s.Fetch(ctx, externalURL)
	if err != nil {
		return "", err
	}
	return s.Write(ctx, key, data)
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
