package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Setenv("HOME", t.TempDir())
	t.Setenv("LESSOND_STORAGE_BACKEND", "memory")
	t.Setenv("LESSOND_SERVER_HTTP_PORT", "18084")
	t.Setenv("LESSOND_OBSERVABILITY_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, options{})
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:18084/health")
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestRunWatchesPolicyInMissingDirectory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	t.Setenv("HOME", t.TempDir())
	t.Setenv("LESSOND_STORAGE_BACKEND", "memory")
	t.Setenv("LESSOND_SERVER_HTTP_PORT", "18085")
	t.Setenv("LESSOND_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("LESSOND_POLICY_WATCH", "true")

	policyPath := filepath.Join(t.TempDir(), "policies", "policy.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, options{policyPath: policyPath})
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:18085/health")
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()

	var statErr error
	for i := 0; i < 20; i++ {
		if _, statErr = os.Stat(filepath.Dir(policyPath)); statErr == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if statErr != nil {
		t.Errorf("policy directory not created: %v", statErr)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
