package crawlers

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	// DefaultMemoryThreshold 触发回收的内存占用百分比
	DefaultMemoryThreshold = 80.0
	// DefaultCooldown 回收后的冷却时间
	DefaultCooldown = 2 * time.Second
)

// MemorySampler 返回系统内存占用百分比
type MemorySampler func(ctx context.Context) (float64, error)

// ResourceMonitor 系统资源监控器
// 在每批次创建浏览器会话前采样内存,超过阈值时执行一次回收并冷却
type ResourceMonitor struct {
	config ResourceMonitorConfig

	sampler   MemorySampler
	reclaimer func()
	sleep     func(ctx context.Context, d time.Duration)

	mu           sync.Mutex
	reclamations int
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	MemoryThreshold float64       `mapstructure:"memory_threshold" yaml:"memory_threshold"` // 内存阈值(%)
	Cooldown        time.Duration `mapstructure:"cooldown" yaml:"cooldown"`                 // 回收后等待时间
}

// ResourceSnapshot 资源快照,用于日志
type ResourceSnapshot struct {
	MemoryPercent float64
	CPUPercent    float64
	Pressure      string
}

// MonitorOption 资源监控器选项
type MonitorOption func(*ResourceMonitor)

// WithSampler 替换内存采样函数
func WithSampler(s MemorySampler) MonitorOption {
	return func(rm *ResourceMonitor) { rm.sampler = s }
}

// WithReclaimer 替换内存回收函数
func WithReclaimer(f func()) MonitorOption {
	return func(rm *ResourceMonitor) { rm.reclaimer = f }
}

// WithSleep 替换冷却等待函数
func WithSleep(f func(ctx context.Context, d time.Duration)) MonitorOption {
	return func(rm *ResourceMonitor) { rm.sleep = f }
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig, opts ...MonitorOption) *ResourceMonitor {
	if config.MemoryThreshold <= 0 {
		config.MemoryThreshold = DefaultMemoryThreshold
	}
	if config.Cooldown < 0 {
		config.Cooldown = DefaultCooldown
	}

	rm := &ResourceMonitor{
		config:    config,
		sampler:   systemMemoryPercent,
		reclaimer: ReclaimMemory,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm
}

// Sample 采样内存占用百分比
// 达到阈值时执行一次回收,等待冷却后重新采样并返回新值;采样失败记为0,不返回错误
func (rm *ResourceMonitor) Sample(ctx context.Context) float64 {
	usage := rm.read(ctx)
	if usage < rm.config.MemoryThreshold {
		return usage
	}

	log.Warn().
		Float64("memory_percent", usage).
		Float64("threshold", rm.config.MemoryThreshold).
		Msg("内存占用过高,执行回收")

	rm.reclaimer()
	rm.mu.Lock()
	rm.reclamations++
	rm.mu.Unlock()

	rm.sleep(ctx, rm.config.Cooldown)

	after := rm.read(ctx)
	log.Info().
		Float64("before", usage).
		Float64("after", after).
		Msg("内存回收完成")
	return after
}

// Reclamations 已执行的回收次数
func (rm *ResourceMonitor) Reclamations() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.reclamations
}

// Threshold 当前阈值
func (rm *ResourceMonitor) Threshold() float64 {
	return rm.config.MemoryThreshold
}

// Snapshot 资源快照,包含CPU占用,仅用于日志
func (rm *ResourceMonitor) Snapshot(ctx context.Context) ResourceSnapshot {
	memPercent := rm.read(ctx)
	return ResourceSnapshot{
		MemoryPercent: memPercent,
		CPUPercent:    cpuPercent(ctx),
		Pressure:      rm.pressure(memPercent),
	}
}

func (rm *ResourceMonitor) pressure(percent float64) string {
	switch {
	case percent >= rm.config.MemoryThreshold:
		return "critical"
	case percent >= rm.config.MemoryThreshold-10:
		return "warning"
	default:
		return "normal"
	}
}

func (rm *ResourceMonitor) read(ctx context.Context) float64 {
	v, err := rm.sampler(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("获取内存占用失败")
		return 0
	}
	return v
}

// ReclaimMemory 触发GC并将空闲内存归还操作系统
func ReclaimMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func systemMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// cpuPercent 100毫秒采样间隔的系统平均CPU占用
func cpuPercent(ctx context.Context) float64 {
	percentages, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
		return 0
	}
	if len(percentages) == 0 {
		return 0
	}
	return percentages[0]
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
