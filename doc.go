// Package sandbox 提供 Prime Compute 沙箱服务的 Go SDK，用于创建、等待、
// 访问和销毁远端临时执行环境。
//
// 沙箱是一个短生命周期的云端容器，创建后经过 PENDING/PROVISIONING 进入
// RUNNING 状态，命令执行与文件传输不经过控制面，而是携带短期凭证直连该
// 沙箱的执行网关。凭证由 SDK 透明获取、缓存并在过期后刷新。
//
// # 快速开始
//
// 创建客户端、启动沙箱并执行命令:
//
//	c, err := sandbox.NewClient(&sandbox.Config{
//	    APIKey: os.Getenv("PRIME_API_KEY"),
//	})
//
//	sb, err := c.CreateSandbox(ctx, &sandbox.CreateSandboxRequest{
//	    Name:        "demo",
//	    DockerImage: "python:3.12-slim",
//	})
//
//	sb, err = c.WaitForCreation(ctx, sb.ID)
//
//	resp, err := c.ExecuteCommand(ctx, sb.ID, "echo hello",
//	    sandbox.WithTimeout(30*time.Second),
//	)
//	fmt.Println(resp.Stdout)
//
//	defer c.DeleteSandbox(ctx, sb.ID)
//
// # 生命周期
//
//   - [Client.CreateSandbox] / [Client.WaitForCreation]: 创建沙箱并轮询等待就绪
//   - [Client.BulkWaitForCreation]: 批量等待一组沙箱，基于列表接口降低请求量
//   - [Client.GetSandbox] / [Client.ListSandboxes] / [Client.UpdateSandbox]: 查询与更新
//   - [Client.DeleteSandbox] / [Client.BulkDelete] / [Client.BulkDeleteAll]: 删除
//   - [Client.GetSandboxLogs]: 获取沙箱主进程日志
//
// 就绪的判定不止于状态为 RUNNING：SDK 还会通过网关执行一条探测命令，
// 确认网关真正开始接受请求。
//
// # 网关访问
//
//   - [Client.ExecuteCommand]: 执行 shell 命令，非零退出码不视为错误
//   - [Client.UploadFile] / [Client.UploadBytes]: 上传文件
//   - [Client.DownloadFile]: 下载文件
//   - [Client.StartBackgroundJob] / [Client.GetBackgroundJob]: 后台命令
//
// 所有网关操作默认超时 300 秒，可通过 [WithTimeout] 调整。命令/上传/下载
// 超时分别返回 [CommandTimeoutError]、[UploadTimeoutError]、
// [DownloadTimeoutError]；沙箱已进入终态时返回 [NotRunningError]；
// 其余失败返回 [APIError]。
//
// # 网络暴露与 SSH
//
//   - [Client.ExposePort] / [Client.UnexposePort] / [Client.ListExposedPorts]: 端口暴露
//   - [Client.CreateSSHSession] / [Client.CloseSSHSession]: 限时 SSH 会话
//
// # 凭证缓存
//
// 网关凭证按沙箱缓存在内存并持久化到本地文件
// （默认 ~/.prime/sandbox_auth_cache.json），跨进程复用。持久化是尽力而为的，
// 写入失败不影响调用。[Client.ClearAuthCache] 清空缓存以强制重新认证。
//
// # 并发
//
// 同一个 Client 可被多个 goroutine 并发使用。网关连接池跨调用共享；
// 同一沙箱的并发凭证刷新会合并为一次后端调用。所有阻塞操作都接受
// context.Context，轮询间隔的休眠同样受 context 取消控制。
package sandbox
