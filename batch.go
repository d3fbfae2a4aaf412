package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// bulkDeleteBatchSize 后端约定的单次批量删除上限。
const bulkDeleteBatchSize = 100

// BulkDelete 批量删除沙箱，按 ID 列表或标签过滤二选一。
// 单次调用不分片，ID 数量超过上限时报错；大批量删除用 BulkDeleteAll。
func (c *Client) BulkDelete(ctx context.Context, sandboxIDs, labels []string) (*BulkDeleteResponse, error) {
	if len(sandboxIDs) == 0 && len(labels) == 0 {
		return nil, errors.New("either sandbox ids or labels must be provided")
	}
	if len(sandboxIDs) > 0 && len(labels) > 0 {
		return nil, errors.New("sandbox ids and labels are mutually exclusive")
	}
	if len(sandboxIDs) > bulkDeleteBatchSize {
		return nil, fmt.Errorf("at most %d sandbox ids per call, got %d", bulkDeleteBatchSize, len(sandboxIDs))
	}

	req := &BulkDeleteRequest{SandboxIDs: sandboxIDs, Labels: labels}
	var resp BulkDeleteResponse
	if err := c.request(ctx, http.MethodDelete, "/sandbox", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BulkDeleteAll 删除任意数量的沙箱：ID 列表切成不超过 100 个一批，
// 按输入顺序逐批提交，聚合各批结果。某一批整体失败不会中止后续批次，
// 该批的每个 ID 记为失败条目。
// 不变式：每个输入 ID 恰好出现在结果的 Succeeded 或 Failed 之一。
func (c *Client) BulkDeleteAll(ctx context.Context, sandboxIDs []string) (*BulkDeleteResponse, error) {
	if len(sandboxIDs) == 0 {
		return nil, errors.New("no sandbox ids provided")
	}

	out := &BulkDeleteResponse{}
	for start := 0; start < len(sandboxIDs); start += bulkDeleteBatchSize {
		end := start + bulkDeleteBatchSize
		if end > len(sandboxIDs) {
			end = len(sandboxIDs)
		}
		chunk := sandboxIDs[start:end]

		resp, err := c.BulkDelete(ctx, chunk, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			for _, id := range chunk {
				out.Failed = append(out.Failed, FailedDelete{SandboxID: id, Error: err.Error()})
			}
			continue
		}
		out.Succeeded = append(out.Succeeded, resp.Succeeded...)
		out.Failed = append(out.Failed, resp.Failed...)
	}
	out.Message = fmt.Sprintf("deleted %d of %d sandboxes", len(out.Succeeded), len(sandboxIDs))
	return out, nil
}
