package storage

import (
	"context"
	"testing"

	"ngmc-chatbot-go/internal/config"
)

func TestNewMinIOStoreRejectsBadEndpoint(t *testing.T) {
	_, err := NewMinIOStore(context.Background(), config.MinIOConfig{
		Endpoint:   "not a host",
		BucketName: "ngmc-scrape",
	})
	if err == nil {
		t.Fatal("expected an error for an invalid endpoint")
	}
}
