// Package xclient 是客户端弹性层的组合根。
//
// [New] 按 [Config] 构造并持有各组件的唯一实例：
//
//   - xtransport.HTTPSender：默认传输
//   - xfault.Center：失败分类、处理器分发与历史
//   - xauth.Manager：单飞凭证刷新（配置了 auth.refresh_url 或注入刷新器时）
//   - xretry.Manager、xmonitor.Monitor、可选的 xbreaker.Group
//   - xpipeline.Pipeline：把以上组件组合到每次调用边界
//
// 协作方（传输、凭证存储、通知、会话、日志、观测）通过 Option 注入，
// 测试可以为每个用例创建全新的客户端。
//
//	cfg, err := xclient.LoadConfig("client.yaml")
//	if err != nil {
//	    return err
//	}
//	c, err := xclient.New(cfg, xclient.WithNotifier(toast), xclient.WithSession(session))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	if err := c.Start(); err != nil {
//	    return err
//	}
//	resp, err := c.Get(ctx, "/orders")
//
// 失败时返回 *xfault.NormalizedError，错误中心已经处理过（通知、登出），
// 调用方只需决定业务上的后续动作。
package xclient
