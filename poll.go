package sandbox

import "time"

// 轮询默认值。
const (
	defaultMaxAttempts     = 60
	defaultStabilityChecks = 1

	stabilityCheckDelay = 500 * time.Millisecond
	rateLimitDelayCap   = 60 * time.Second
)

// WaitOption 就绪等待选项。
type WaitOption func(*waitOpts)

type waitOpts struct {
	maxAttempts     int
	stabilityChecks int
}

// WithMaxAttempts 设置轮询的最大尝试次数，默认 60。
func WithMaxAttempts(n int) WaitOption {
	return func(o *waitOpts) { o.maxAttempts = n }
}

// WithStabilityChecks 要求连续 n 次探测成功才判定就绪，默认 1。
// 用于对抗网关刚上线时的抖动。
func WithStabilityChecks(n int) WaitOption {
	return func(o *waitOpts) { o.stabilityChecks = n }
}

func applyWaitOpts(opts []WaitOption) waitOpts {
	o := waitOpts{
		maxAttempts:     defaultMaxAttempts,
		stabilityChecks: defaultStabilityChecks,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = defaultMaxAttempts
	}
	if o.stabilityChecks <= 0 {
		o.stabilityChecks = defaultStabilityChecks
	}
	return o
}

// attemptDelay 轮询间隔：前 5 次 1 秒，之后 2 秒。无抖动。
func attemptDelay(attempt int) time.Duration {
	if attempt < 5 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

// rateLimitDelay 限流退避：min(2^attempt, 60) 秒。
// 只用于批量等待的翻页循环。
func rateLimitDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if attempt >= 6 || d > rateLimitDelayCap {
		return rateLimitDelayCap
	}
	return d
}
