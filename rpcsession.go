package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"connectrpc.com/connect"
)

// GPU 沙箱的命令执行通道是网关转发的 ConnectRPC 服务端流，
// 协议消息为 JSON 编码，无需生成代码。
const commandSessionProcedure = "/command_session.CommandSession/Start"

type commandSpec struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
	Envs []string `json:"envs,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

type sessionStartRequest struct {
	Command commandSpec `json:"command"`
	Stdin   bool        `json:"stdin"`
}

type sessionDataEvent struct {
	Stdout []byte `json:"stdout,omitempty"`
	Stderr []byte `json:"stderr,omitempty"`
	Pty    []byte `json:"pty,omitempty"`
}

type sessionEndEvent struct {
	ExitCode int `json:"exit_code"`
}

type sessionEvent struct {
	Data *sessionDataEvent `json:"data,omitempty"`
	End  *sessionEndEvent  `json:"end,omitempty"`
}

type sessionStartResponse struct {
	Event sessionEvent `json:"event"`
}

// jsonCodec 让 connect 客户端以 JSON 收发消息。
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

// collectSessionEvent 把单个流事件并入累积的输出与退出码。
// 返回值表示是否收到了结束事件。
func collectSessionEvent(ev sessionEvent, stdout, stderr *[]byte, exitCode *int) bool {
	if ev.Data != nil {
		*stdout = append(*stdout, ev.Data.Stdout...)
		*stderr = append(*stderr, ev.Data.Stderr...)
		// PTY 输出并入 stdout，REST 通道没有独立的 PTY 流。
		*stdout = append(*stdout, ev.Data.Pty...)
	}
	if ev.End != nil {
		*exitCode = ev.End.ExitCode
		return true
	}
	return false
}

// execRPC 通过流式 RPC 通道执行命令，聚合输出后返回与 REST 通道
// 相同形状的结果。
func (c *Client) execRPC(ctx context.Context, sandboxID, command string, o execOpts) (*CommandResponse, error) {
	cred, err := c.credential(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("%s/%s/%s",
		trimTrailingSlash(cred.GatewayURL), cred.UserNamespace, cred.JobID)

	client := connect.NewClient[sessionStartRequest, sessionStartResponse](
		c.gateway(),
		baseURL+commandSessionProcedure,
		connect.WithCodec(jsonCodec{}),
	)

	envs := make([]string, 0, len(o.env))
	for k, v := range o.env {
		envs = append(envs, k+"="+v)
	}
	req := connect.NewRequest(&sessionStartRequest{
		Command: commandSpec{
			Cmd:  "/bin/sh",
			Args: []string{"-c", command},
			Envs: envs,
			Cwd:  o.workingDir,
		},
	})
	req.Header().Set("Authorization", "Bearer "+cred.Token)

	// 与 REST 通道一致，请求超时比命令超时多留余量。
	callCtx, cancel := context.WithTimeout(ctx,
		time.Duration(o.timeoutSec+execTimeoutMargin)*time.Second)
	defer cancel()

	stream, err := client.CallServerStream(callCtx, req)
	if err != nil {
		return nil, c.rpcError(ctx, sandboxID, command, o.timeoutSec, err)
	}
	defer stream.Close()

	var stdout, stderr []byte
	exitCode := -1
	ended := false
	for stream.Receive() {
		if collectSessionEvent(stream.Msg().Event, &stdout, &stderr, &exitCode) {
			ended = true
		}
	}
	if err := stream.Err(); err != nil {
		return nil, c.rpcError(ctx, sandboxID, command, o.timeoutSec, err)
	}
	if !ended {
		return nil, &APIError{
			Method: "POST",
			URL:    baseURL + commandSessionProcedure,
			Detail: "command stream ended without exit code",
		}
	}
	return &CommandResponse{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		ExitCode: exitCode,
	}, nil
}

// rpcError 把 ConnectRPC 错误归类到与 REST 通道一致的错误类型。
// 只有 not_found 映射为 NotRunningError；unavailable 等传输层错误
// 是瞬时条件，统一返回 APIError 交由调用方重试。
func (c *Client) rpcError(ctx context.Context, sandboxID, command string, timeoutSec int, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeDeadlineExceeded:
		return c.execTimeout(ctx, sandboxID, command, timeoutSec)
	case connect.CodeNotFound:
		ec := c.errorContext(ctx, sandboxID)
		if ec.Status.Terminal() {
			return notRunningFromContext(sandboxID, ec, command)
		}
		return &NotRunningError{
			SandboxID: sandboxID,
			Status:    string(StatusTerminated),
			ErrorType: ErrorTypeNotFound,
			Command:   command,
		}
	default:
		return &APIError{Method: "POST", URL: commandSessionProcedure,
			Detail: "Connect RPC failed", Cause: err}
	}
}
