// Package xtransport 定义请求管道与底层传输之间的契约。
//
// 管道只依赖 [Sender] 接口：输入一个 [Request] 描述，输出 [Response]
// 或传输失败。非 2xx 响应统一以 [*Error] 返回，并携带原始响应，
// 供错误分类使用；网络层失败同样以 [*Error] 返回，但不携带响应。
//
// [HTTPSender] 是基于 net/http 的默认实现：
//
//	sender := xtransport.NewHTTPSender(xtransport.HTTPSenderConfig{
//	    BaseURL: "https://api.example.com",
//	    Timeout: 10 * time.Second,
//	})
//	resp, err := sender.Send(ctx, &xtransport.Request{Method: http.MethodGet, URL: "/users"})
//
// 测试或自定义传输可以使用 [SenderFunc] 适配普通函数。
package xtransport
