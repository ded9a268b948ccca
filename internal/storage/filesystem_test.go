package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	require.NoError(t, err)
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	url, err := s.Write(ctx, "orders/o1/page-01.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/orders/o1/page-01.png", url)

	data, err := s.Read(ctx, "orders/o1/page-01.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
}

func TestWriteRejectsTraversal(t *testing.T) {
	s := newStore(t)
	_, err := s.Write(context.Background(), "../escape.png", []byte("x"))
	assert.Error(t, err)
}

func TestFetchOwnURLReadsLocally(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	url, err := s.Write(ctx, "a/b.png", []byte("local"))
	require.NoError(t, err)

	data, err := s.Fetch(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), data)
}

func TestRehost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	s := newStore(t)
	ctx := context.Background()

	url, err := s.Rehost(ctx, srv.URL+"/image.png", "rehosted/image.png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/rehosted/image.png", url)

	data, err := s.Read(ctx, "rehosted/image.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-bytes"), data)
}
