package crawlers

// StealthScript 在每个新文档执行前注入,隐藏常见的自动化特征
const StealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
`

// chromeFlags 启动参数,两个基于Chrome的后端共用
// 值为空字符串的表示无值开关
func chromeFlags(cfg SessionConfig) map[string]string {
	flags := map[string]string{
		"disable-gpu":                            "",
		"disable-blink-features":                 "AutomationControlled",
		"disable-dev-shm-usage":                  "",
		"disable-extensions":                     "",
		"disable-logging":                        "",
		"log-level":                              "3",
		"disable-software-rasterizer":            "",
		"disable-background-timer-throttling":    "",
		"disable-backgrounding-occluded-windows": "",
		"disable-renderer-backgrounding":         "",
		"user-agent":                             cfg.UserAgent,
	}
	if cfg.DisableCache {
		flags["disable-application-cache"] = ""
		flags["disk-cache-size"] = "0"
		flags["media-cache-size"] = "0"
		flags["aggressive-cache-discard"] = ""
		flags["disable-offline-load-stale-cache"] = ""
	}
	if cfg.NoSandbox {
		flags["no-sandbox"] = ""
	}
	return flags
}
