package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConfigure(t *testing.T) {
	originalTimeout, originalIdle := client.Timeout, transport.MaxIdleConnsPerHost
	t.Cleanup(func() {
		client.Timeout = originalTimeout
		transport.MaxIdleConnsPerHost = originalIdle
	})

	tests := []struct {
		name     string
		seconds  int
		call     time.Duration
		fanOut   int
		want     time.Duration
		wantIdle int
	}{
		{"default", 0, 0, 0, DefaultTimeout, 4},
		{"negative falls back", -3, 20 * time.Second, 4, DefaultTimeout, 4},
		{"configured", 120, 20 * time.Second, 8, 2 * time.Minute, 8},
		{"raised to call timeout", 5, 20 * time.Second, 2, 20 * time.Second, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport.MaxIdleConnsPerHost = 4
			got := Configure(tt.seconds, tt.call, tt.fanOut)
			if got != tt.want || Client().Timeout != tt.want {
				t.Fatalf("Configure(%d, %s) = %s (client %s), want %s", tt.seconds, tt.call, got, Client().Timeout, tt.want)
			}
			if transport.MaxIdleConnsPerHost != tt.wantIdle {
				t.Fatalf("idle conns per host = %d, want %d", transport.MaxIdleConnsPerHost, tt.wantIdle)
			}
		})
	}
}

func TestContextDeadlineBeatsClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	_, err = Client().Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("call took %s; per-call deadline was ignored", elapsed)
	}
}
