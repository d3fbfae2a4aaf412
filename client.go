package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/primecompute/sandbox-go/internal/authcache"
)

// Version 是 SDK 版本号。
const Version = "0.3.0"

// DefaultBaseURL 是控制面 API 的默认服务地址。
const DefaultBaseURL = "https://api.primecompute.ai"

const apiPrefix = "/api/v1"

// 控制面请求对瞬时连接错误的重试配置。
// 注意: 超时不重试，因为请求可能已被服务端处理。
const (
	apiMaxAttempts = 3
	apiRetryBase   = 100 * time.Millisecond
	apiRetryMax    = 2 * time.Second
	apiTimeout     = 30 * time.Second
	apiDialTimeout = 10 * time.Second
)

// Config 是客户端配置。
type Config struct {
	// APIKey 是控制面 API 密钥（必填，缺省读取 PRIME_API_KEY 环境变量）。
	APIKey string

	// BaseURL 控制面地址（可选，缺省读取 PRIME_API_BASE_URL，默认 DefaultBaseURL）。
	BaseURL string

	// TeamID 团队 ID（可选，缺省读取 PRIME_TEAM_ID）。
	// 创建与列表请求未指定团队时自动填充。
	TeamID string

	// CredentialFile 网关凭证缓存文件路径
	// （可选，默认 ~/.prime/sandbox_auth_cache.json）。
	CredentialFile string

	// HTTPClient 自定义控制面 HTTP 客户端（可选）。
	HTTPClient *http.Client

	// MaxConns / MaxIdleConns 网关连接池上限（可选）。
	MaxConns     int
	MaxIdleConns int
}

// Client 是沙箱 SDK 的客户端。
// 所有阻塞操作都接受 context.Context；同一个 Client 可被多个
// goroutine 并发使用，并发语义见包文档。
type Client struct {
	config     *Config
	baseURL    string
	apiKey     string
	teamID     string
	userAgent  string
	httpClient *http.Client

	auth *authcache.Cache

	gatewayOnce   sync.Once
	gatewayClient *http.Client

	// sleep 为所有轮询/退避提供挂起点，测试中可替换。
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient 创建客户端。
func NewClient(config *Config) (*Client, error) {
	c, err := newClient(config)
	if err != nil {
		return nil, err
	}
	credFile := c.config.CredentialFile
	if credFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve credential cache path: %w", err)
		}
		credFile = filepath.Join(home, ".prime", "sandbox_auth_cache.json")
	}
	c.auth = authcache.New(authcache.NewFileStore(credFile))
	return c, nil
}

// newClient 构建除凭证缓存以外的部分。
func newClient(config *Config) (*Client, error) {
	if config == nil {
		config = &Config{}
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PRIME_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("no API key configured, set PRIME_API_KEY environment variable")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("PRIME_API_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	teamID := config.TeamID
	if teamID == "" {
		teamID = os.Getenv("PRIME_TEAM_ID")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: apiTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: apiDialTimeout}).DialContext,
			},
		}
	}

	return &Client{
		config:     config,
		baseURL:    trimTrailingSlash(baseURL),
		apiKey:     apiKey,
		teamID:     teamID,
		userAgent:  fmt.Sprintf("sandbox-go/%s go/%s", Version, runtime.Version()),
		httpClient: httpClient,
		sleep:      ctxSleep,
	}, nil
}

// newClientWithStore 供测试注入内存存储，不触碰凭证文件。
func newClientWithStore(config *Config, store authcache.Store) (*Client, error) {
	c, err := newClient(config)
	if err != nil {
		return nil, err
	}
	c.auth = authcache.New(store)
	return c, nil
}

// ClearAuthCache 清空全部缓存的网关凭证并删除持久化文件，
// 用于强制重新认证。
func (c *Client) ClearAuthCache() {
	c.auth.Clear()
}

// ctxSleep 挂起 d 时长，context 取消时提前返回其错误。
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// request 向控制面发起 JSON 请求。
// 瞬时连接错误按指数退避重试；超时与 HTTP 错误不重试。
// out 非空时把响应 body 反序列化进去。
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	u := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	var resp *http.Response
	delay := apiRetryBase
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		if attempt >= apiMaxAttempts-1 || !isTransientNetError(err) {
			return newTransportError(method, u, err)
		}
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
		if delay *= 2; delay > apiRetryMax {
			delay = apiRetryMax
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return newTransportError(method, u, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(resp.StatusCode, method, u, respBody)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			apiErr.Detail = "API key unauthorized, check PRIME_API_KEY"
		case http.StatusPaymentRequired:
			apiErr.Detail = "payment required, check billing status"
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response %s %s: %w", method, u, err)
		}
	}
	return nil
}

// isTransientNetError 判断网络错误是否值得重试。
// 这类错误多为服务端关闭了连接池中的空闲连接。
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// isTimeoutError 判断错误是否为请求超时。
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
