package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateSandbox 创建沙箱并返回其初始状态（通常为 PENDING）。
// 请求中未指定团队时自动填充客户端配置的团队 ID。
// 创建成功不代表就绪，需配合 WaitForCreation 使用。
func (c *Client) CreateSandbox(ctx context.Context, req *CreateSandboxRequest) (*Sandbox, error) {
	if req.TeamID == "" {
		req.TeamID = c.teamID
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var sb Sandbox
	if err := c.request(ctx, http.MethodPost, "/sandbox", nil, req, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// GetSandbox 获取沙箱当前状态。
func (c *Client) GetSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	var sb Sandbox
	if err := c.request(ctx, http.MethodGet, "/sandbox/"+sandboxID, nil, nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// ListSandboxes 分页列出沙箱，params 为 nil 时使用默认过滤。
func (c *Client) ListSandboxes(ctx context.Context, params *ListParams) (*SandboxListResponse, error) {
	if params == nil {
		params = &ListParams{}
	}
	query := url.Values{}
	page := params.Page
	if page < 1 {
		page = 1
	}
	query.Set("page", strconv.Itoa(page))
	if params.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(params.PerPage))
	}
	teamID := params.TeamID
	if teamID == "" {
		teamID = c.teamID
	}
	if teamID != "" {
		query.Set("team_id", teamID)
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	for _, label := range params.Labels {
		query.Add("labels", label)
	}
	if params.ExcludeTerminated != nil {
		query.Set("is_active", strconv.FormatBool(*params.ExcludeTerminated))
	}
	var resp SandboxListResponse
	if err := c.request(ctx, http.MethodGet, "/sandbox", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSandbox 更新沙箱的可变配置。
func (c *Client) UpdateSandbox(ctx context.Context, sandboxID string, req *UpdateSandboxRequest) (*Sandbox, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var sb Sandbox
	if err := c.request(ctx, http.MethodPut, "/sandbox/"+sandboxID, nil, req, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// DeleteSandbox 删除单个沙箱。
func (c *Client) DeleteSandbox(ctx context.Context, sandboxID string) error {
	return c.request(ctx, http.MethodDelete, "/sandbox/"+sandboxID, nil, nil, nil)
}

// GetSandboxLogs 获取沙箱主进程日志。
func (c *Client) GetSandboxLogs(ctx context.Context, sandboxID string) (string, error) {
	var resp SandboxLogsResponse
	if err := c.request(ctx, http.MethodGet, "/sandbox/"+sandboxID+"/logs", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Logs, nil
}

// ExposePort 把沙箱内端口暴露为公网可达的端点。
func (c *Client) ExposePort(ctx context.Context, sandboxID string, req *ExposePortRequest) (*ExposedPort, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	var resp ExposedPort
	endpoint := fmt.Sprintf("/sandbox/%s/expose", sandboxID)
	if err := c.request(ctx, http.MethodPost, endpoint, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnexposePort 撤销端口暴露。
func (c *Client) UnexposePort(ctx context.Context, sandboxID, exposureID string) error {
	endpoint := fmt.Sprintf("/sandbox/%s/expose/%s", sandboxID, exposureID)
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil, nil)
}

// ListExposedPorts 列出沙箱的全部端口暴露。
func (c *Client) ListExposedPorts(ctx context.Context, sandboxID string) ([]ExposedPort, error) {
	var resp ListExposedPortsResponse
	endpoint := fmt.Sprintf("/sandbox/%s/expose", sandboxID)
	if err := c.request(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Exposures, nil
}

// ListAllExposedPorts 列出当前用户全部沙箱的端口暴露。
func (c *Client) ListAllExposedPorts(ctx context.Context) ([]ExposedPort, error) {
	var resp ListExposedPortsResponse
	if err := c.request(ctx, http.MethodGet, "/sandbox/expose/all", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Exposures, nil
}

// CreateSSHSession 创建限时 SSH 会话。ttlSeconds 为 0 时由服务端取默认值。
func (c *Client) CreateSSHSession(ctx context.Context, sandboxID string, ttlSeconds int) (*SSHSession, error) {
	body := struct {
		TTLSeconds int `json:"ttl_seconds,omitempty"`
	}{ttlSeconds}
	var resp SSHSession
	endpoint := fmt.Sprintf("/sandbox/%s/ssh-session", sandboxID)
	if err := c.request(ctx, http.MethodPost, endpoint, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseSSHSession 关闭 SSH 会话。
func (c *Client) CloseSSHSession(ctx context.Context, sandboxID, sessionID string) error {
	endpoint := fmt.Sprintf("/sandbox/%s/ssh-session/%s", sandboxID, sessionID)
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil, nil)
}

// errorContext 获取沙箱的轻量错误上下文，用于网关报错后的状态甄别。
// 本身失败时返回零值，调用方按"仍在运行"处理。
func (c *Client) errorContext(ctx context.Context, sandboxID string) errorContext {
	var ec errorContext
	endpoint := fmt.Sprintf("/sandbox/%s/error-context", sandboxID)
	if err := c.request(ctx, http.MethodGet, endpoint, nil, nil, &ec); err != nil {
		return errorContext{}
	}
	return ec
}
