package sandbox

import "context"

const bulkWaitPageSize = 100

// creationTimeoutStatus 是创建等待耗尽尝试次数时的失败原因。
const creationTimeoutStatus = "Timeout during sandbox creation"

// WaitForCreation 轮询单个沙箱直到其 RUNNING 且网关可达。
// 终态（ERROR/TERMINATED/TIMEOUT）立即失败，不再重试；
// 耗尽尝试次数返回 NotRunningError。
func (c *Client) WaitForCreation(ctx context.Context, sandboxID string, opts ...WaitOption) (*Sandbox, error) {
	o := applyWaitOpts(opts)

	stable := 0
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		sb, err := c.GetSandbox(ctx, sandboxID)
		if err != nil {
			return nil, err
		}

		switch {
		case sb.Status == StatusRunning:
			if c.isReachable(ctx, sandboxID) {
				stable++
				if stable >= o.stabilityChecks {
					return sb, nil
				}
				if err := c.sleep(ctx, stabilityCheckDelay); err != nil {
					return nil, err
				}
				continue
			}
			// RUNNING 但网关尚未接受请求，按未就绪继续轮询。
			stable = 0
		case sb.Status.Terminal():
			return nil, &NotRunningError{
				SandboxID: sandboxID,
				Status:    string(sb.Status),
				ErrorType: sb.ErrorType,
			}
		default:
			stable = 0
		}

		if err := c.sleep(ctx, attemptDelay(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, &NotRunningError{SandboxID: sandboxID, Status: creationTimeoutStatus}
}

// BulkWaitForCreation 等待一组沙箱全部就绪。
// 每轮用分页列表接口拉取全量状态并在客户端过滤，避免逐个查询触发限流；
// 列表页遇到 429 时按 min(2^attempt, 60) 秒指数退避后重试同一页。
// 已确认可达的沙箱在后续轮次不再重复探测。
// 任一沙箱进入失败终态则整批立即失败。返回值为各沙箱的最终状态，
// 耗尽尝试次数时未确认的沙箱标记为 TIMEOUT，并返回 BulkWaitError。
func (c *Client) BulkWaitForCreation(ctx context.Context, sandboxIDs []string, opts ...WaitOption) (map[string]SandboxStatus, error) {
	o := applyWaitOpts(opts)
	if len(sandboxIDs) == 0 {
		return map[string]SandboxStatus{}, nil
	}

	// remaining 是尚未确认就绪的沙箱；确认过的不再重复探测。
	remaining := make(map[string]bool, len(sandboxIDs))
	for _, id := range sandboxIDs {
		remaining[id] = true
	}
	statuses := make(map[string]SandboxStatus, len(sandboxIDs))

	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		observed, err := c.scanStatuses(ctx, sandboxIDs, attempt)
		if err != nil {
			return nil, err
		}

		var failed []FailedSandbox
		allRunning := len(remaining) > 0
		for id := range remaining {
			st, ok := observed[id]
			if !ok {
				allRunning = false
				continue
			}
			statuses[id] = st
			if st.Terminal() {
				failed = append(failed, FailedSandbox{SandboxID: id, Status: st})
			}
			if st != StatusRunning {
				allRunning = false
			}
		}
		if len(failed) > 0 {
			return statuses, &BulkWaitError{Failed: failed, Statuses: statuses}
		}

		if allRunning {
			// 逐个探测可达性；探不通的降级回等待集合，下一轮再试。
			for id := range remaining {
				if c.isReachable(ctx, id) {
					delete(remaining, id)
				}
			}
			if len(remaining) == 0 {
				return statuses, nil
			}
		}

		if err := c.sleep(ctx, attemptDelay(attempt)); err != nil {
			return nil, err
		}
	}

	for id := range remaining {
		statuses[id] = StatusTimeout
	}
	return statuses, &BulkWaitError{Statuses: statuses, TimedOut: true}
}

// scanStatuses 顺序翻完列表接口的所有页，返回请求集内沙箱的当前状态。
func (c *Client) scanStatuses(ctx context.Context, sandboxIDs []string, attempt int) (map[string]SandboxStatus, error) {
	want := make(map[string]bool, len(sandboxIDs))
	for _, id := range sandboxIDs {
		want[id] = true
	}

	observed := make(map[string]SandboxStatus, len(sandboxIDs))
	page := 1
	for {
		resp, err := c.ListSandboxes(ctx, &ListParams{Page: page, PerPage: bulkWaitPageSize})
		if err != nil {
			if isRateLimited(err) {
				if serr := c.sleep(ctx, rateLimitDelay(attempt)); serr != nil {
					return nil, serr
				}
				continue // 同一页重试
			}
			return nil, err
		}
		for _, sb := range resp.Sandboxes {
			if want[sb.ID] {
				observed[sb.ID] = sb.Status
			}
		}
		if !resp.HasNext {
			return observed, nil
		}
		page++
	}
}
