// Package crawlers 提供新闻列表页采集所需的浏览器会话、资源监控和文章提取
//
// # 概述
//
// crawlers包向批次编排器提供三类能力:按批次创建的浏览器会话(BrowserSession)、
// 创建会话前的内存背压检查(ResourceMonitor)以及从页面HTML提取文章(ArticleExtractor)。
// 编排逻辑本身在core包中,本包不保存任何跨批次状态。
//
// # 核心组件
//
// ## BrowserSession
//
// 一个会话只服务一个批次。标签页的创建与导航是分离的:先打开空白标签页并安装
// 身份、额外头部、缓存和反检测脚本等覆盖,再开始导航,因此枚举句柄不会与页面加载竞争。
//
// 三种后端:
//   - rod (默认): go-rod launcher启动,浏览器级HijackRequests按资源类型屏蔽图片和样式表
//   - chromedp: exec allocator启动,每个标签页一个chromedp上下文,Network.setBlockedURLs屏蔽资源
//   - static: colly直接抓取HTML,不执行JavaScript,适用于服务端渲染的列表页
//
//	factory := BackendFactory{}
//	session, err := factory.NewSession(ctx, DefaultSessionConfig())
//	if err != nil { /* ErrSessionCreate */ }
//	defer session.Terminate()
//
//	tab, err := session.OpenTab(ctx, "https://example.com/news/2")
//	ready, err := session.WaitReady(ctx, tab, 20*time.Second)
//
// 错误分类:
//   - ErrTabOpen / ErrTabGone: 页面级错误,只影响当前页
//   - ErrSessionLost: 浏览器整体失联,编排器将其上升为批次级失败
//   - WaitReady超时返回false,不返回错误
//
// ## ResourceMonitor (资源监控器)
//
// 每个批次创建会话前调用Sample。内存占用达到阈值(默认80%)时执行一次GC回收,
// 冷却(默认2秒)后重新采样并返回新值;低于阈值时直接返回首次采样。
// 采样失败记为0,从不返回错误。
//
//	monitor := NewResourceMonitor(ResourceMonitorConfig{MemoryThreshold: 80, Cooldown: 2 * time.Second})
//	usage := monitor.Sample(ctx)
//
// 测试中可通过WithSampler、WithReclaimer、WithSleep替换采样、回收和等待。
//
// ## ArticleExtractor (文章提取器)
//
// SelectorExtractor使用goquery按可配置的CSS选择器提取标题、链接、摘要和发布时间。
// 相对链接按LinkBase补全;零结果是合法输出,由编排器记为"no articles found"。
package crawlers
