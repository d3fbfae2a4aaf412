package sandbox

import "time"

// SandboxStatus 沙箱状态，由后端维护，客户端只通过轮询观察。
type SandboxStatus string

const (
	StatusPending      SandboxStatus = "PENDING"
	StatusProvisioning SandboxStatus = "PROVISIONING"
	StatusRunning      SandboxStatus = "RUNNING"
	StatusStopped      SandboxStatus = "STOPPED"
	StatusError        SandboxStatus = "ERROR"
	StatusTerminated   SandboxStatus = "TERMINATED"
	StatusTimeout      SandboxStatus = "TIMEOUT"
)

// Terminal 报告该状态是否为失败终态。终态沙箱不会再变为 RUNNING，
// 轮询遇到终态必须立即失败而不是继续重试。
func (s SandboxStatus) Terminal() bool {
	switch s {
	case StatusError, StatusTerminated, StatusTimeout:
		return true
	}
	return false
}

// Sandbox 表示一个远程执行环境。
// 后端响应使用 camelCase 字段名。
type Sandbox struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	DockerImage     string            `json:"dockerImage"`
	StartCommand    string            `json:"startCommand,omitempty"`
	CPUCores        float64           `json:"cpuCores"`
	MemoryGB        float64           `json:"memoryGB"`
	DiskSizeGB      float64           `json:"diskSizeGB"`
	DiskMountPath   string            `json:"diskMountPath"`
	GPUCount        int               `json:"gpuCount"`
	NetworkAccess   bool              `json:"networkAccess"`
	Status          SandboxStatus     `json:"status"`
	TimeoutMinutes  int               `json:"timeoutMinutes"`
	EnvironmentVars map[string]string `json:"environmentVars,omitempty"`
	Labels          []string          `json:"labels,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	TerminatedAt    *time.Time        `json:"terminatedAt,omitempty"`
	ExitCode        *int              `json:"exitCode,omitempty"`
	ErrorType       string            `json:"errorType,omitempty"`
	ErrorMessage    string            `json:"errorMessage,omitempty"`
	UserID          string            `json:"userId,omitempty"`
	TeamID          string            `json:"teamId,omitempty"`
}

// SandboxListResponse 分页列表响应。
type SandboxListResponse struct {
	Sandboxes []Sandbox `json:"sandboxes"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	PerPage   int       `json:"perPage"`
	HasNext   bool      `json:"hasNext"`
}

// ListParams 列表过滤参数。
type ListParams struct {
	TeamID string
	Status SandboxStatus
	Labels []string
	// Page 从 1 开始，0 表示第 1 页。
	Page    int
	PerPage int
	// ExcludeTerminated 非空时映射到 is_active 查询参数。
	ExcludeTerminated *bool
}

// CreateSandboxRequest 创建沙箱请求。
// 请求体使用 snake_case 字段名（与响应的 camelCase 不对称，是后端契约）。
type CreateSandboxRequest struct {
	Name            string            `json:"name" validate:"required"`
	DockerImage     string            `json:"docker_image" validate:"required"`
	StartCommand    string            `json:"start_command,omitempty"`
	CPUCores        float64           `json:"cpu_cores,omitempty" validate:"gte=0"`
	MemoryGB        float64           `json:"memory_gb,omitempty" validate:"gte=0"`
	DiskSizeGB      float64           `json:"disk_size_gb,omitempty" validate:"gte=0"`
	GPUCount        int               `json:"gpu_count,omitempty" validate:"gte=0"`
	NetworkAccess   *bool             `json:"network_access,omitempty"`
	TimeoutMinutes  int               `json:"timeout_minutes,omitempty" validate:"gte=0"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty" validate:"omitempty,dive,keys,envname,endkeys"`
	Labels          []string          `json:"labels,omitempty"`
	TeamID          string            `json:"team_id,omitempty"`
}

// UpdateSandboxRequest 更新沙箱请求，零值字段不发送。
type UpdateSandboxRequest struct {
	Name            string            `json:"name,omitempty"`
	DockerImage     string            `json:"docker_image,omitempty"`
	StartCommand    string            `json:"start_command,omitempty"`
	CPUCores        float64           `json:"cpu_cores,omitempty" validate:"gte=0"`
	MemoryGB        float64           `json:"memory_gb,omitempty" validate:"gte=0"`
	TimeoutMinutes  int               `json:"timeout_minutes,omitempty" validate:"gte=0"`
	EnvironmentVars map[string]string `json:"environment_vars,omitempty" validate:"omitempty,dive,keys,envname,endkeys"`
}

// CommandResponse 命令执行结果。退出码原样返回，非零退出不视为错误。
type CommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// FileUploadResponse 文件上传结果。
type FileUploadResponse struct {
	Success   bool      `json:"success"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkDeleteRequest 批量删除请求，SandboxIDs 与 Labels 二选一。
type BulkDeleteRequest struct {
	SandboxIDs []string `json:"sandbox_ids,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// FailedDelete 单个删除失败条目。
type FailedDelete struct {
	SandboxID string `json:"sandbox_id"`
	Error     string `json:"error"`
}

// BulkDeleteResponse 批量删除结果。
// 不变式：每个输入 ID 恰好出现在 Succeeded 或 Failed 之一。
type BulkDeleteResponse struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []FailedDelete `json:"failed"`
	Message   string         `json:"message,omitempty"`
}

// ExposePortRequest 暴露端口请求。
type ExposePortRequest struct {
	Port     int    `json:"port" validate:"gte=1,lte=65535"`
	Name     string `json:"name,omitempty"`
	Protocol string `json:"protocol,omitempty" validate:"omitempty,oneof=HTTP TCP"`
}

// ExposedPort 已暴露端口信息。
type ExposedPort struct {
	ExposureID       string `json:"exposure_id"`
	SandboxID        string `json:"sandbox_id"`
	Port             int    `json:"port"`
	Name             string `json:"name,omitempty"`
	URL              string `json:"url"`
	TLSSocket        string `json:"tls_socket,omitempty"`
	Protocol         string `json:"protocol,omitempty"`
	ExternalPort     int    `json:"external_port,omitempty"`
	ExternalEndpoint string `json:"external_endpoint,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// ListExposedPortsResponse 端口暴露列表响应。
type ListExposedPortsResponse struct {
	Exposures []ExposedPort `json:"exposures"`
}

// SSHSession SSH 会话详情。
type SSHSession struct {
	SessionID        string    `json:"session_id"`
	ExposureID       string    `json:"exposure_id"`
	SandboxID        string    `json:"sandbox_id"`
	Host             string    `json:"host"`
	Port             int       `json:"port"`
	ExternalEndpoint string    `json:"external_endpoint"`
	ExpiresAt        time.Time `json:"expires_at"`
	TTLSeconds       int       `json:"ttl_seconds"`
}

// BackgroundJob 后台命令句柄，由 StartBackgroundJob 返回。
type BackgroundJob struct {
	JobID         string `json:"job_id"`
	SandboxID     string `json:"sandbox_id"`
	StdoutLogFile string `json:"stdout_log_file"`
	StderrLogFile string `json:"stderr_log_file"`
	ExitFile      string `json:"exit_file"`
}

// BackgroundJobStatus 后台命令状态。Completed 为 false 时其余字段无意义。
type BackgroundJobStatus struct {
	JobID     string `json:"job_id"`
	Completed bool   `json:"completed"`
	ExitCode  int    `json:"exit_code,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

// errorContext 是轻量错误上下文端点的响应，
// 用于在网关报错后区分超时与沙箱终态。
type errorContext struct {
	Status       SandboxStatus `json:"status"`
	ErrorType    string        `json:"errorType"`
	ErrorMessage string        `json:"errorMessage"`
}

// SandboxLogsResponse 日志响应。
type SandboxLogsResponse struct {
	Logs string `json:"logs"`
}
