package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/primecompute/sandbox-go/internal/authcache"
)

// 网关调用的超时与重试配置（时间单位为秒，与网关协议一致）。
const (
	defaultGatewayTimeout = 300
	execTimeoutMargin     = 5
	probeTimeoutSeconds   = 10

	gatewayMaxAttempts = 4
	gatewayRetryBase   = 1 * time.Second
	gatewayRetryMax    = 30 * time.Second

	maxConflictRetries     = 4
	conflictRetryBaseDelay = 250 * time.Millisecond

	defaultMaxConns     = 50
	defaultMaxIdleConns = 20
)

// retryable5xx 网关侧可重试的状态码。524 是上游网关超时。
var retryable5xx = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	524:                            true,
}

// ExecOption 命令执行选项。
type ExecOption func(*execOpts)

type execOpts struct {
	workingDir string
	env        map[string]string
	timeoutSec int
}

// WithWorkingDir 设置命令的工作目录。
func WithWorkingDir(dir string) ExecOption {
	return func(o *execOpts) { o.workingDir = dir }
}

// WithEnv 设置命令的环境变量。
func WithEnv(env map[string]string) ExecOption {
	return func(o *execOpts) { o.env = env }
}

// WithTimeout 设置命令/传输的有效超时，未设置时为 300 秒。
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOpts) { o.timeoutSec = int(d / time.Second) }
}

func applyExecOpts(opts []ExecOption) execOpts {
	o := execOpts{timeoutSec: defaultGatewayTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	if o.timeoutSec <= 0 {
		o.timeoutSec = defaultGatewayTimeout
	}
	return o
}

// gateway 返回共享的网关 HTTP 客户端。
// 连接池跨调用复用；客户端本身不设超时，超时由每次请求的 context 控制。
func (c *Client) gateway() *http.Client {
	c.gatewayOnce.Do(func() {
		maxConns := c.config.MaxConns
		if maxConns <= 0 {
			maxConns = defaultMaxConns
		}
		maxIdle := c.config.MaxIdleConns
		if maxIdle <= 0 {
			maxIdle = defaultMaxIdleConns
		}
		c.gatewayClient = &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     maxConns,
				MaxIdleConns:        maxIdle,
				MaxIdleConnsPerHost: maxIdle,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return c.gatewayClient
}

// credential 返回沙箱的网关凭证，缓存未命中或过期时向控制面刷新。
func (c *Client) credential(ctx context.Context, sandboxID string) (authcache.Credential, error) {
	return c.auth.GetOrRefresh(ctx, sandboxID, func(ctx context.Context) (authcache.Credential, error) {
		var cred authcache.Credential
		if err := c.request(ctx, http.MethodPost, "/sandbox/"+sandboxID+"/auth", nil, nil, &cred); err != nil {
			return authcache.Credential{}, err
		}
		return cred, nil
	})
}

// isGPU 判断沙箱是否为 GPU 实例，决定命令走 RPC 通道还是 REST 通道。
// 结果随凭证缓存，避免每次执行都查询控制面。
func (c *Client) isGPU(ctx context.Context, sandboxID string) (bool, error) {
	cred, err := c.credential(ctx, sandboxID)
	if err != nil {
		return false, err
	}
	if cred.IsGPU != nil {
		return *cred.IsGPU, nil
	}
	sb, err := c.GetSandbox(ctx, sandboxID)
	if err != nil {
		return false, err
	}
	gpu := sb.GPUCount > 0
	c.auth.Annotate(sandboxID, func(cr *authcache.Credential) { cr.IsGPU = &gpu })
	return gpu, nil
}

// gatewayEndpoint 拼接网关操作 URL：{gateway_url}/{ns}/{job}/{op}。
func gatewayEndpoint(cred authcache.Credential, op string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		trimTrailingSlash(cred.GatewayURL), cred.UserNamespace, cred.JobID, op)
}

// gatewayDo 执行一次网关 HTTP 调用并完整读取响应 body。
// 瞬时网络错误与可重试 5xx 按指数退避重试；超时不重试，
// 因为命令可能已在沙箱内启动。
func (c *Client) gatewayDo(ctx context.Context, method, rawURL, token, contentType string, body []byte, timeoutSec int) (int, []byte, error) {
	delay := gatewayRetryBase
	var lastStatus int
	var lastBody []byte
	for attempt := 0; attempt < gatewayMaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
		status, respBody, err := c.gatewayRoundTrip(reqCtx, method, rawURL, token, contentType, body)
		cancel()

		if err != nil {
			if isTimeoutError(err) || !isTransientNetError(err) {
				return 0, nil, err
			}
		} else if !retryable5xx[status] {
			return status, respBody, nil
		} else {
			lastStatus, lastBody = status, respBody
		}

		if attempt == gatewayMaxAttempts-1 {
			if err != nil {
				return 0, nil, err
			}
			return lastStatus, lastBody, nil
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			return 0, nil, serr
		}
		if delay *= 2; delay > gatewayRetryMax {
			delay = gatewayRetryMax
		}
	}
	return lastStatus, lastBody, nil
}

// gatewayRoundTrip 单次网关请求，不含重试。
func (c *Client) gatewayRoundTrip(ctx context.Context, method, rawURL, token, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.gateway().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// sandboxNotFound 判断网关 502 响应是否为"沙箱已不存在"。
func sandboxNotFound(status int, body []byte) bool {
	if status != http.StatusBadGateway {
		return false
	}
	var parsed struct {
		Error string `json:"error"`
	}
	return json.Unmarshal(body, &parsed) == nil && parsed.Error == "sandbox_not_found"
}

type execPayload struct {
	Command    string            `json:"command"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	SandboxID  string            `json:"sandbox_id"`
	Timeout    int               `json:"timeout"`
}

// ExecuteCommand 在沙箱内执行 shell 命令并等待其完成。
// 退出码原样返回，非零退出不是错误。GPU 沙箱走流式 RPC 通道，
// 其余沙箱走网关 REST 通道，两者语义一致。
func (c *Client) ExecuteCommand(ctx context.Context, sandboxID, command string, opts ...ExecOption) (*CommandResponse, error) {
	o := applyExecOpts(opts)

	gpu, err := c.isGPU(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	if gpu {
		return c.execRPC(ctx, sandboxID, command, o)
	}
	return c.execREST(ctx, sandboxID, command, o)
}

func (c *Client) execREST(ctx context.Context, sandboxID, command string, o execOpts) (*CommandResponse, error) {
	payload, err := json.Marshal(execPayload{
		Command:    command,
		WorkingDir: o.workingDir,
		Env:        o.env,
		SandboxID:  sandboxID,
		Timeout:    o.timeoutSec,
	})
	if err != nil {
		return nil, err
	}

	conflictDelay := conflictRetryBaseDelay
	for conflict := 0; ; conflict++ {
		cred, err := c.credential(ctx, sandboxID)
		if err != nil {
			return nil, err
		}
		endpoint := gatewayEndpoint(cred, "exec")

		// 请求超时比命令超时多留余量，避免客户端先于网关超时。
		status, body, err := c.gatewayDo(ctx, http.MethodPost, endpoint, cred.Token,
			"application/json", payload, o.timeoutSec+execTimeoutMargin)
		switch {
		case err != nil && isTimeoutError(err):
			return nil, c.execTimeout(ctx, sandboxID, command, o.timeoutSec)
		case err != nil:
			return nil, newTransportError(http.MethodPost, endpoint, err)
		case status == http.StatusRequestTimeout:
			return nil, c.execTimeout(ctx, sandboxID, command, o.timeoutSec)
		case sandboxNotFound(status, body):
			return nil, &NotRunningError{
				SandboxID: sandboxID,
				Status:    string(StatusTerminated),
				ErrorType: ErrorTypeNotFound,
				Command:   command,
			}
		case status == http.StatusConflict:
			if cerr := c.resolveConflict(ctx, sandboxID, command, http.MethodPost, endpoint, "", body, conflict, conflictDelay); cerr != nil {
				return nil, cerr
			}
			conflictDelay *= 2
			continue
		case status < 200 || status > 299:
			return nil, newAPIError(status, http.MethodPost, endpoint, body)
		}

		var resp CommandResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode command response: %w", err)
		}
		return &resp, nil
	}
}

// resolveConflict 甄别网关 409：沙箱尚未接管请求。错误上下文显示
// 沙箱仍在 RUNNING（或查询失败，按仍在运行处理）且重试未耗尽时，
// 退避等待后返回 nil，调用方重发请求；重试耗尽返回 409 APIError，
// 调用方可稍后整体重试；其余状态返回 NotRunningError。
func (c *Client) resolveConflict(ctx context.Context, sandboxID, command, method, endpoint, op string, respBody []byte, conflict int, delay time.Duration) error {
	ec := c.errorContext(ctx, sandboxID)
	if ec.Status != StatusRunning && ec.Status != "" {
		return notRunningFromContext(sandboxID, ec, command)
	}
	if conflict >= maxConflictRetries {
		apiErr := newAPIError(http.StatusConflict, method, endpoint, respBody)
		apiErr.Op = op
		apiErr.Detail = fmt.Sprintf("sandbox returned 409 after %d retries, please retry", maxConflictRetries)
		return apiErr
	}
	return c.sleep(ctx, delay)
}

// execTimeout 区分"命令真的超时"与"沙箱在执行期间死亡"。
func (c *Client) execTimeout(ctx context.Context, sandboxID, command string, timeoutSec int) error {
	ec := c.errorContext(ctx, sandboxID)
	if ec.Status.Terminal() {
		return notRunningFromContext(sandboxID, ec, command)
	}
	return &CommandTimeoutError{SandboxID: sandboxID, Command: command, Timeout: timeoutSec}
}

// UploadFile 把本地文件上传到沙箱内的 remotePath。
// 内容一次性读入内存，不做流式传输。
func (c *Client) UploadFile(ctx context.Context, sandboxID, localPath, remotePath string, opts ...ExecOption) (*FileUploadResponse, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read local file: %w", err)
	}
	return c.UploadBytes(ctx, sandboxID, data, filepath.Base(localPath), remotePath, opts...)
}

// UploadBytes 把内存中的内容作为文件上传到沙箱内的 remotePath。
func (c *Client) UploadBytes(ctx context.Context, sandboxID string, data []byte, fileName, remotePath string, opts ...ExecOption) (*FileUploadResponse, error) {
	o := applyExecOpts(opts)

	form, contentType, err := buildFileForm(fileName, data)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("path", remotePath)
	query.Set("sandbox_id", sandboxID)

	conflictDelay := conflictRetryBaseDelay
	for conflict := 0; ; conflict++ {
		cred, err := c.credential(ctx, sandboxID)
		if err != nil {
			return nil, err
		}
		endpoint := gatewayEndpoint(cred, "upload") + "?" + query.Encode()

		status, body, err := c.gatewayDo(ctx, http.MethodPost, endpoint, cred.Token, contentType, form, o.timeoutSec)
		switch {
		case err != nil && isTimeoutError(err):
			return nil, &UploadTimeoutError{SandboxID: sandboxID, Path: remotePath, Timeout: o.timeoutSec}
		case err != nil:
			apiErr := newTransportError(http.MethodPost, endpoint, err)
			apiErr.Op = "upload"
			return nil, apiErr
		case status == http.StatusRequestTimeout:
			return nil, &UploadTimeoutError{SandboxID: sandboxID, Path: remotePath, Timeout: o.timeoutSec}
		case sandboxNotFound(status, body):
			return nil, &NotRunningError{
				SandboxID: sandboxID,
				Status:    string(StatusTerminated),
				ErrorType: ErrorTypeNotFound,
			}
		case status == http.StatusConflict:
			if cerr := c.resolveConflict(ctx, sandboxID, "", http.MethodPost, endpoint, "upload", body, conflict, conflictDelay); cerr != nil {
				return nil, cerr
			}
			conflictDelay *= 2
			continue
		case status < 200 || status > 299:
			apiErr := newAPIError(status, http.MethodPost, endpoint, body)
			apiErr.Op = "upload"
			return nil, apiErr
		}

		var resp FileUploadResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode upload response: %w", err)
		}
		return &resp, nil
	}
}

// DownloadFile 把沙箱内的 remotePath 下载到本地 localPath。
// 响应 body 完整读取后才落盘，下载失败不会留下半写的文件；
// 缺失的父目录在写入前创建。
func (c *Client) DownloadFile(ctx context.Context, sandboxID, remotePath, localPath string, opts ...ExecOption) error {
	o := applyExecOpts(opts)

	query := url.Values{}
	query.Set("path", remotePath)
	query.Set("sandbox_id", sandboxID)

	conflictDelay := conflictRetryBaseDelay
	for conflict := 0; ; conflict++ {
		cred, err := c.credential(ctx, sandboxID)
		if err != nil {
			return err
		}
		endpoint := gatewayEndpoint(cred, "download") + "?" + query.Encode()

		status, body, err := c.gatewayDo(ctx, http.MethodGet, endpoint, cred.Token, "", nil, o.timeoutSec)
		switch {
		case err != nil && isTimeoutError(err):
			return &DownloadTimeoutError{SandboxID: sandboxID, Path: remotePath, Timeout: o.timeoutSec}
		case err != nil:
			apiErr := newTransportError(http.MethodGet, endpoint, err)
			apiErr.Op = "download"
			return apiErr
		case status == http.StatusRequestTimeout:
			return &DownloadTimeoutError{SandboxID: sandboxID, Path: remotePath, Timeout: o.timeoutSec}
		case sandboxNotFound(status, body):
			return &NotRunningError{
				SandboxID: sandboxID,
				Status:    string(StatusTerminated),
				ErrorType: ErrorTypeNotFound,
			}
		case status == http.StatusConflict:
			if cerr := c.resolveConflict(ctx, sandboxID, "", http.MethodGet, endpoint, "download", body, conflict, conflictDelay); cerr != nil {
				return cerr
			}
			conflictDelay *= 2
			continue
		case status < 200 || status > 299:
			apiErr := newAPIError(status, http.MethodGet, endpoint, body)
			apiErr.Op = "download"
			return apiErr
		}

		if dir := filepath.Dir(localPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create destination directory: %w", err)
			}
		}
		return os.WriteFile(localPath, body, 0644)
	}
}

// isReachable 通过执行一条探测命令确认沙箱网关已可用。
// 任何失败都只表示"尚未就绪"，由轮询循环继续重试。
func (c *Client) isReachable(ctx context.Context, sandboxID string) bool {
	resp, err := c.ExecuteCommand(ctx, sandboxID, "echo 'sandbox ready'",
		WithTimeout(probeTimeoutSeconds*time.Second))
	if err != nil {
		return false
	}
	return resp.ExitCode == 0 && strings.Contains(resp.Stdout, "sandbox ready")
}
