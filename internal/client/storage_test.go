package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/deckforge/api/internal/model"
)

type memStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", err
	}
	m.objects[key] = buf.Bytes()
	m.types[key] = contentType
	return m.GetPublicURL(key), nil
}

func (m *memStorage) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

func TestStorageAssetStore_SaveImage(t *testing.T) {
	storage := &memStorage{objects: map[string][]byte{}, types: map[string]string{}}
	s := NewStorageAssetStore(storage)

	asset, err := s.SaveImage(context.Background(), "decks/j1/01-intro.png", []byte{1, 2, 3}, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if asset.URL != "https://cdn.test/decks/j1/01-intro.png" || asset.Key != "decks/j1/01-intro.png" || asset.SizeBytes != 3 {
		t.Errorf("unexpected asset: %+v", asset)
	}
	if storage.types["decks/j1/01-intro.png"] != "image/png" {
		t.Errorf("content type not passed to storage")
	}
}

func TestR2Client_PublicURL(t *testing.T) {
	c := &R2Client{bucketName: "decks", publicURL: "https://assets.example.com"}
	if got := c.GetPublicURL("a/b.png"); got != "https://assets.example.com/a/b.png" {
		t.Errorf("unexpected url %s", got)
	}
	c.publicURL = ""
	if got := c.GetPublicURL("a/b.png"); got != "https://decks.r2.cloudflarestorage.com/a/b.png" {
		t.Errorf("unexpected fallback url %s", got)
	}
}

func TestClassifyGeminiError(t *testing.T) {
	var upErr *model.UpstreamError

	err := classifyGeminiError(fmt.Errorf("call: %w", &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "overloaded"}))
	if !errors.As(err, &upErr) || !upErr.Retryable || upErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected retryable 503, got %v", err)
	}

	err = classifyGeminiError(&googleapi.Error{Code: http.StatusBadRequest, Message: "bad"})
	if !errors.As(err, &upErr) || upErr.Retryable {
		t.Errorf("expected terminal 400, got %v", err)
	}

	err = classifyGeminiError(errors.New("connection reset"))
	if !errors.As(err, &upErr) || !upErr.Retryable {
		t.Errorf("expected transport error to be retryable, got %v", err)
	}
}
