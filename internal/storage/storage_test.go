package storage

import (
	"context"
	"errors"
	"testing"
)

func TestDetectStorageType(t *testing.T) {
	tests := []struct {
		endpoint string
		want     StorageType
	}{
		{"https://abc.r2.cloudflarestorage.com", StorageTypeR2},
		{"s3.us-west-2.amazonaws.com", StorageTypeS3},
		{"localhost:9000", StorageTypeS3Compatible},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := detectStorageType(tt.endpoint); got != tt.want {
				t.Errorf("detectStorageType(%q) = %s, want %s", tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"https://minio.local:9000/bucket": "minio.local:9000",
		"http://localhost:9000":           "localhost:9000",
		"s3.amazonaws.com":                "s3.amazonaws.com",
	}
	for in, want := range tests {
		if got := normalizeEndpoint(in); got != want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTaskResultKey(t *testing.T) {
	if got := TaskResultKey("tasks", "owner-1", "t-9"); got != "tasks/owner-1/t-9.json" {
		t.Errorf("TaskResultKey = %q", got)
	}
}

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrObjectNotFound", err)
	}
	if err := s.Put(ctx, "k", []byte("v1"), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	body, err := s.Get(ctx, "k")
	if err != nil || string(body) != "v1" {
		t.Fatalf("Get = %q, %v", body, err)
	}
	if ok, _ := s.Exists(ctx, "k"); !ok {
		t.Error("Exists(k) = false after Put")
	}
	if ok, _ := s.Exists(ctx, "other"); ok {
		t.Error("Exists(other) = true")
	}
	if got := s.URL("k"); got != "memory://k" {
		t.Errorf("URL = %q", got)
	}
}
