package sandbox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// 沙箱终态的 errorType 取值。
const (
	ErrorTypeOOMKilled       = "OOM_KILLED"
	ErrorTypeTimeout         = "TIMEOUT"
	ErrorTypeImagePullFailed = "IMAGE_PULL_FAILED"
	ErrorTypeNotFound        = "SANDBOX_NOT_FOUND"
)

// APIError 表示控制面或网关返回的非预期响应，或网络层失败。
// StatusCode 为 0 表示请求未到达服务端（网络错误），此时 Cause 非空。
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Body       []byte

	// Detail 是从响应 body 解析出的 detail 字段（如果有）。
	Detail string

	// Op 标注失败的网关操作（"upload"、"download" 等），用于错误前缀。
	Op string

	Cause error
}

// Error 实现 error 接口。
func (e *APIError) Error() string {
	var msg string
	switch {
	case e.StatusCode == 0 && e.Cause != nil:
		msg = fmt.Sprintf("request failed: %T at %s %s: %v", e.Cause, e.Method, e.URL, e.Cause)
	case e.StatusCode == 0:
		msg = fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Detail)
	case e.Detail != "":
		msg = fmt.Sprintf("HTTP %d %s %s: %s", e.StatusCode, e.Method, e.URL, e.Detail)
	default:
		msg = fmt.Sprintf("HTTP %d %s %s: %s", e.StatusCode, e.Method, e.URL, string(e.Body))
	}
	if e.Op != "" {
		return e.Op + " failed: " + msg
	}
	return msg
}

// Unwrap 返回底层网络错误（如果有）。
func (e *APIError) Unwrap() error { return e.Cause }

// Unauthorized 报告错误是否为 401。
func (e *APIError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// PaymentRequired 报告错误是否为 402。
func (e *APIError) PaymentRequired() bool { return e.StatusCode == http.StatusPaymentRequired }

// RateLimited 报告错误是否为限流（429）。
// 仅批量等待的翻页循环内部识别并退避，不向调用方暴露。
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		strings.Contains(string(e.Body), "Too Many Requests")
}

// newAPIError 创建 APIError 并尝试从 JSON body 解析 detail 字段。
func newAPIError(statusCode int, method, url string, body []byte) *APIError {
	e := &APIError{StatusCode: statusCode, Method: method, URL: url, Body: body}
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Detail = parsed.Detail
	}
	return e
}

// newTransportError 创建网络层失败的 APIError。
func newTransportError(method, url string, cause error) *APIError {
	return &APIError{Method: method, URL: url, Cause: cause}
}

// isRateLimited 判断错误是否为限流错误。
func isRateLimited(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.RateLimited()
	}
	return err != nil && strings.Contains(err.Error(), "429")
}

// NotRunningError 表示操作要求 RUNNING 沙箱但沙箱处于其他状态，
// 或创建轮询在耗尽尝试次数后仍未就绪。对调用方而言总是致命的，
// 内部绝不重试。
type NotRunningError struct {
	SandboxID string
	Status    string
	ErrorType string

	// Command 是触发错误的命令（如果有），用于构造更有用的消息。
	Command string
	// Message 覆盖默认消息（如果非空）。
	Message string
}

// Error 实现 error 接口。
func (e *NotRunningError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Command != "" {
		return e.terminatedMessage()
	}
	if e.ErrorType != "" {
		return fmt.Sprintf("sandbox %s failed (%s)", e.SandboxID, e.ErrorType)
	}
	if e.Status != "" {
		return fmt.Sprintf("sandbox %s is not running (status=%s)", e.SandboxID, e.Status)
	}
	return fmt.Sprintf("sandbox %s is not running", e.SandboxID)
}

// terminatedMessage 为带命令上下文的终态错误构造提示消息。
func (e *NotRunningError) terminatedMessage() string {
	preview := e.Command
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	parts := []string{fmt.Sprintf("command %q failed: sandbox is no longer running.", preview)}
	switch e.ErrorType {
	case ErrorTypeOOMKilled:
		parts = append(parts, "The sandbox was terminated due to out-of-memory (OOM).")
	case ErrorTypeTimeout:
		parts = append(parts, "The sandbox exceeded its maximum runtime and was terminated.")
	case ErrorTypeImagePullFailed:
		parts = append(parts, "The sandbox failed to start due to image pull failure.")
	default:
		if e.Status == string(StatusTerminated) {
			parts = append(parts, "The sandbox was terminated.")
		}
	}
	return strings.Join(parts, " ")
}

// OOMKilled 报告沙箱是否因内存不足被终止。
func (e *NotRunningError) OOMKilled() bool { return e.ErrorType == ErrorTypeOOMKilled }

// notRunningFromContext 根据错误上下文构造 NotRunningError。
func notRunningFromContext(sandboxID string, ctx errorContext, command string) *NotRunningError {
	e := &NotRunningError{
		SandboxID: sandboxID,
		Status:    string(ctx.Status),
		ErrorType: ctx.ErrorType,
		Command:   command,
	}
	if command == "" && ctx.ErrorMessage != "" {
		e.Message = fmt.Sprintf("sandbox %s failed (%s): %s", sandboxID, ctx.ErrorType, ctx.ErrorMessage)
	}
	return e
}

// CommandTimeoutError 命令执行超过有效超时，或网关返回 408。
// 与一般 API 错误区分开，便于调用方实施自己的重试策略。
type CommandTimeoutError struct {
	SandboxID string
	Command   string
	Timeout   int
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %ds in sandbox %s", e.Command, e.Timeout, e.SandboxID)
}

// UploadTimeoutError 文件上传超时。
type UploadTimeoutError struct {
	SandboxID string
	Path      string
	Timeout   int
}

func (e *UploadTimeoutError) Error() string {
	return fmt.Sprintf("upload to %q timed out after %ds in sandbox %s", e.Path, e.Timeout, e.SandboxID)
}

// DownloadTimeoutError 文件下载超时。
type DownloadTimeoutError struct {
	SandboxID string
	Path      string
	Timeout   int
}

func (e *DownloadTimeoutError) Error() string {
	return fmt.Sprintf("download from %q timed out after %ds in sandbox %s", e.Path, e.Timeout, e.SandboxID)
}

// FailedSandbox 批量等待中进入失败终态的沙箱。
type FailedSandbox struct {
	SandboxID string
	Status    SandboxStatus
}

// BulkWaitError 批量等待失败。
// 任一沙箱进入失败终态时整批立即失败（Failed 非空）；
// 耗尽尝试次数时 TimedOut 为 true，Statuses 包含每个请求 ID 的最终状态，
// 未确认的 ID 标记为 TIMEOUT。
type BulkWaitError struct {
	Failed   []FailedSandbox
	Statuses map[string]SandboxStatus
	TimedOut bool
}

// Error 实现 error 接口。
func (e *BulkWaitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("timeout waiting for sandboxes to be ready, status: %v", e.Statuses)
	}
	return fmt.Sprintf("sandboxes failed: %v", e.Failed)
}
