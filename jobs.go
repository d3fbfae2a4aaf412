package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// 后台任务把命令放入 nohup 子 shell，输出与退出码落在沙箱内的
// 固定路径文件里，之后可随时查询。
const (
	jobStartTimeout  = 10 * time.Second
	jobExitTimeout   = 30 * time.Second
	jobOutputTimeout = 60 * time.Second
)

var shellSafePattern = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote 为 POSIX shell 转义单个参数。
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafePattern.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StartBackgroundJob 在沙箱内启动不随本次调用结束的后台命令。
// 返回的句柄指向沙箱内的日志与退出码文件，用 GetBackgroundJob 查询进度。
func (c *Client) StartBackgroundJob(ctx context.Context, sandboxID, command string, opts ...ExecOption) (*BackgroundJob, error) {
	o := applyExecOpts(opts)

	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	jobID := hex.EncodeToString(buf)

	job := &BackgroundJob{
		JobID:         jobID,
		SandboxID:     sandboxID,
		StdoutLogFile: fmt.Sprintf("/tmp/job_%s.out", jobID),
		StderrLogFile: fmt.Sprintf("/tmp/job_%s.err", jobID),
		ExitFile:      fmt.Sprintf("/tmp/job_%s.exit", jobID),
	}

	var sb strings.Builder
	// 环境变量名逐个校验后内联进子 shell，值走 shellQuote。
	keys := make([]string, 0, len(o.env))
	for k := range o.env {
		if err := validateEnvName(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("export %s=%s; ", k, shellQuote(o.env[k])))
	}
	if o.workingDir != "" {
		sb.WriteString(fmt.Sprintf("cd %s; ", shellQuote(o.workingDir)))
	}
	sb.WriteString(command)
	inner := fmt.Sprintf("%s; echo $? > %s", sb.String(), job.ExitFile)

	launch := fmt.Sprintf("nohup sh -c %s > %s 2> %s < /dev/null &",
		shellQuote(inner), job.StdoutLogFile, job.StderrLogFile)

	if _, err := c.ExecuteCommand(ctx, sandboxID, launch, WithTimeout(jobStartTimeout)); err != nil {
		return nil, err
	}
	return job, nil
}

// GetBackgroundJob 查询后台命令状态。命令未结束时 Completed 为 false，
// 已结束时附带退出码与两路输出。
func (c *Client) GetBackgroundJob(ctx context.Context, job *BackgroundJob) (*BackgroundJobStatus, error) {
	status := &BackgroundJobStatus{JobID: job.JobID}

	// 退出码文件存在且非空才算结束。
	probe := fmt.Sprintf("cat %s 2>/dev/null", shellQuote(job.ExitFile))
	resp, err := c.ExecuteCommand(ctx, job.SandboxID, probe, WithTimeout(jobExitTimeout))
	if err != nil {
		return nil, err
	}
	exitStr := strings.TrimSpace(resp.Stdout)
	if exitStr == "" {
		return status, nil
	}
	exitCode, err := strconv.Atoi(exitStr)
	if err != nil {
		return nil, fmt.Errorf("unexpected exit file content %q for job %s", exitStr, job.JobID)
	}
	status.Completed = true
	status.ExitCode = exitCode

	collect := fmt.Sprintf("cat %s 2>/dev/null", shellQuote(job.StdoutLogFile))
	out, err := c.ExecuteCommand(ctx, job.SandboxID, collect, WithTimeout(jobOutputTimeout))
	if err != nil {
		return nil, err
	}
	status.Stdout = out.Stdout

	collect = fmt.Sprintf("cat %s 2>/dev/null", shellQuote(job.StderrLogFile))
	out, err = c.ExecuteCommand(ctx, job.SandboxID, collect, WithTimeout(jobOutputTimeout))
	if err != nil {
		return nil, err
	}
	// 两个日志文件都经 cat 打到 stdout。
	status.Stderr = out.Stdout
	return status, nil
}
