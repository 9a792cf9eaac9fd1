package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STORAGE_BUCKET", "MAX_UPLOAD_SIZE", "ALLOWED_EXTENSIONS",
		"RATELIMIT_DEFAULT", "RATELIMIT_UPLOAD", "RATELIMIT_IMAGE", "LOG_FORMAT",
	} {
		_ = os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Bucket != "chatbot-images" {
		t.Errorf("expected default bucket chatbot-images, got %s", cfg.Storage.Bucket)
	}
	if cfg.Upload.MaxSize != 16*1024*1024 {
		t.Errorf("expected 16MB default ceiling, got %d", cfg.Upload.MaxSize)
	}
	if cfg.RateLimit.Image != 50 {
		t.Errorf("expected 50/min image rate limit, got %d", cfg.RateLimit.Image)
	}
	if cfg.RateLimit.StorageURL != "memory://" {
		t.Errorf("expected in-memory rate limit store, got %s", cfg.RateLimit.StorageURL)
	}

	want := []string{"png", "jpg", "jpeg", "gif", "webp", "bmp", "svg"}
	if len(cfg.Upload.AllowedExtensions) != len(want) {
		t.Fatalf("expected %d allowed extensions, got %v", len(want), cfg.Upload.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.Upload.AllowedExtensions[i] != ext {
			t.Errorf("extension %d: expected %s, got %s", i, ext, cfg.Upload.AllowedExtensions[i])
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BUCKET", "my-images")
	t.Setenv("ALLOWED_EXTENSIONS", " PNG, .jpg ,webp")
	t.Setenv("MAX_UPLOAD_SIZE", "1024")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Storage.Bucket != "my-images" {
		t.Errorf("expected bucket my-images, got %s", cfg.Storage.Bucket)
	}
	if cfg.Upload.MaxSize != 1024 {
		t.Errorf("expected ceiling 1024, got %d", cfg.Upload.MaxSize)
	}
	if !cfg.Server.Debug {
		t.Error("expected debug mode on")
	}

	want := []string{"png", "jpg", "webp"}
	if len(cfg.Upload.AllowedExtensions) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Upload.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.Upload.AllowedExtensions[i] != ext {
			t.Errorf("extension %d: expected %s, got %s", i, ext, cfg.Upload.AllowedExtensions[i])
		}
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Run("non-positive size ceiling", func(t *testing.T) {
		t.Setenv("MAX_UPLOAD_SIZE", "0")
		if _, err := Load(); err == nil {
			t.Error("expected error for MAX_UPLOAD_SIZE=0")
		}
	})

	t.Run("empty extension allow-set", func(t *testing.T) {
		t.Setenv("ALLOWED_EXTENSIONS", " , ")
		if _, err := Load(); err == nil {
			t.Error("expected error for empty ALLOWED_EXTENSIONS")
		}
	})

	t.Run("non-positive rate limit", func(t *testing.T) {
		t.Setenv("RATELIMIT_UPLOAD", "0")
		if _, err := Load(); err == nil {
			t.Error("expected error for RATELIMIT_UPLOAD=0")
		}
	})
}
