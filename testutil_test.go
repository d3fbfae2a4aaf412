package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/primecompute/sandbox-go/internal/authcache"
)

// sleepRecorder 替换 Client.sleep，记录每次休眠时长且立即返回。
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// testEnv 同时扮演控制面和网关的假后端。
type testEnv struct {
	t      *testing.T
	mux    *http.ServeMux
	srv    *httptest.Server
	client *Client
	sleeps *sleepRecorder
	store  *authcache.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := authcache.NewMemoryStore()
	c, err := newClientWithStore(&Config{APIKey: "test-key", BaseURL: srv.URL}, store)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	rec := &sleepRecorder{}
	c.sleep = rec.Sleep

	return &testEnv{t: t, mux: mux, srv: srv, client: c, sleeps: rec, store: store}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testCredential 构造指向 gatewayURL 的有效凭证。
func testCredential(gatewayURL string) authcache.Credential {
	return authcache.Credential{
		GatewayURL:    gatewayURL,
		UserNamespace: "ns",
		JobID:         "job",
		Token:         "gw-token",
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

// serveAuth 注册凭证签发端点，凭证指回本测试服务器。
// gpu 非空时随凭证携带 GPU 标记，免去控制面查询。
func (e *testEnv) serveAuth(sandboxID string, gpu *bool) {
	e.mux.HandleFunc("POST /api/v1/sandbox/"+sandboxID+"/auth", func(w http.ResponseWriter, r *http.Request) {
		cred := testCredential(e.srv.URL)
		cred.IsGPU = gpu
		writeJSON(w, http.StatusOK, cred)
	})
}

// serveAuthResponse 直接写出一份指向本服务器的凭证响应，
// 供需要自己计数 auth 调用的测试使用。
func (e *testEnv) serveAuthResponse(w http.ResponseWriter) {
	cred := testCredential(e.srv.URL)
	cred.IsGPU = boolPtr(false)
	writeJSON(w, http.StatusOK, cred)
}

// serveSandbox 注册状态查询端点，每次调用由 fn 生成快照。
func (e *testEnv) serveSandbox(sandboxID string, fn func() Sandbox) {
	e.mux.HandleFunc("GET /api/v1/sandbox/"+sandboxID, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fn())
	})
}

// serveExec 注册网关命令执行端点。
func (e *testEnv) serveExec(fn func(p execPayload) (int, interface{})) {
	e.mux.HandleFunc("POST /ns/job/exec", func(w http.ResponseWriter, r *http.Request) {
		var p execPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			e.t.Errorf("decode exec payload: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gw-token" {
			e.t.Errorf("exec authorization = %q", got)
		}
		status, body := fn(p)
		writeJSON(w, status, body)
	})
}

// serveReadyProbe 让探测命令始终成功。
func (e *testEnv) serveReadyProbe() {
	e.serveExec(func(p execPayload) (int, interface{}) {
		return http.StatusOK, CommandResponse{Stdout: "sandbox ready\n"}
	})
}

func boolPtr(b bool) *bool { return &b }
