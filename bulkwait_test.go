package sandbox

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkWaitAllReady(t *testing.T) {
	env := newTestEnv(t)
	env.serveAuth("sb-1", boolPtr(false))
	env.serveAuth("sb-2", boolPtr(false))
	env.serveReadyProbe()
	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SandboxListResponse{
			Sandboxes: []Sandbox{
				{ID: "sb-1", Status: StatusRunning},
				{ID: "sb-2", Status: StatusRunning},
				{ID: "sb-other", Status: StatusTerminated},
			},
		})
	})

	statuses, err := env.client.BulkWaitForCreation(context.Background(), []string{"sb-1", "sb-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 2 || statuses["sb-1"] != StatusRunning || statuses["sb-2"] != StatusRunning {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestBulkWaitFailedSandboxAbortsBatch(t *testing.T) {
	env := newTestEnv(t)
	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SandboxListResponse{
			Sandboxes: []Sandbox{
				{ID: "sb-1", Status: StatusRunning},
				{ID: "sb-2", Status: StatusTerminated},
			},
		})
	})

	_, err := env.client.BulkWaitForCreation(context.Background(), []string{"sb-1", "sb-2"})
	var bwe *BulkWaitError
	if !errors.As(err, &bwe) {
		t.Fatalf("expected BulkWaitError, got %T: %v", err, err)
	}
	if bwe.TimedOut {
		t.Error("failure should not be reported as timeout")
	}
	if len(bwe.Failed) != 1 || bwe.Failed[0].SandboxID != "sb-2" || bwe.Failed[0].Status != StatusTerminated {
		t.Errorf("failed = %+v", bwe.Failed)
	}
	if delays := env.sleeps.Delays(); len(delays) != 0 {
		t.Errorf("terminal failure must abort without sleeping, got %v", delays)
	}
}

func TestBulkWaitExhaustion(t *testing.T) {
	env := newTestEnv(t)
	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SandboxListResponse{
			Sandboxes: []Sandbox{{ID: "sb-1", Status: StatusPending}},
		})
	})

	statuses, err := env.client.BulkWaitForCreation(context.Background(),
		[]string{"sb-1", "sb-2"}, WithMaxAttempts(3))
	var bwe *BulkWaitError
	if !errors.As(err, &bwe) {
		t.Fatalf("expected BulkWaitError, got %T: %v", err, err)
	}
	if !bwe.TimedOut {
		t.Error("expected TimedOut")
	}
	// 未确认的沙箱一律标记 TIMEOUT，包括列表里从未出现过的。
	if statuses["sb-1"] != StatusTimeout || statuses["sb-2"] != StatusTimeout {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestBulkWaitRateLimitRetriesSamePage(t *testing.T) {
	env := newTestEnv(t)
	env.serveAuth("sb-1", boolPtr(false))
	env.serveReadyProbe()
	var listCalls int32
	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&listCalls, 1) == 1 {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Too Many Requests"})
			return
		}
		writeJSON(w, http.StatusOK, SandboxListResponse{
			Sandboxes: []Sandbox{{ID: "sb-1", Status: StatusRunning}},
		})
	})

	statuses, err := env.client.BulkWaitForCreation(context.Background(), []string{"sb-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses["sb-1"] != StatusRunning {
		t.Errorf("statuses = %v", statuses)
	}
	if n := atomic.LoadInt32(&listCalls); n != 2 {
		t.Errorf("list calls = %d, want 2", n)
	}
	delays := env.sleeps.Delays()
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("delays = %v, want [1s] for 2^0 backoff", delays)
	}
}

func TestBulkWaitPaginates(t *testing.T) {
	env := newTestEnv(t)
	env.serveAuth("sb-1", boolPtr(false))
	env.serveAuth("sb-2", boolPtr(false))
	env.serveReadyProbe()
	env.mux.HandleFunc("GET /api/v1/sandbox", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if got := r.URL.Query().Get("per_page"); got != "100" {
			t.Errorf("per_page = %q", got)
		}
		switch page {
		case 1:
			writeJSON(w, http.StatusOK, SandboxListResponse{
				Sandboxes: []Sandbox{{ID: "sb-1", Status: StatusRunning}},
				HasNext:   true,
			})
		default:
			writeJSON(w, http.StatusOK, SandboxListResponse{
				Sandboxes: []Sandbox{{ID: "sb-2", Status: StatusRunning}},
			})
		}
	})

	statuses, err := env.client.BulkWaitForCreation(context.Background(), []string{"sb-1", "sb-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses["sb-1"] != StatusRunning || statuses["sb-2"] != StatusRunning {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestRateLimitDelayCap(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := rateLimitDelay(tc.attempt); got != tc.want {
			t.Errorf("rateLimitDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
