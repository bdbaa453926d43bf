package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/any-hub/imgcache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestHeadResolverReturnsContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("authorization header should be forwarded")
		}
		if r.Header.Get("Connection") == "close-me" {
			t.Errorf("hop-by-hop header should be stripped")
		}
		w.Header().Set("Content-Type", "image/bmp")
	}))
	defer upstream.Close()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer token")
	headers.Set("Connection", "close-me")

	got, err := HeadResolver{Client: upstream.Client()}.ContentType(context.Background(), upstream.URL+"/img", headers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "image/bmp" {
		t.Fatalf("expected image/bmp, got %q", got)
	}
}

func TestHeadResolverFailsOnErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer upstream.Close()

	if _, err := (HeadResolver{}).ContentType(context.Background(), upstream.URL, nil); err == nil {
		t.Fatalf("non-2xx HEAD response should fail")
	}
}
