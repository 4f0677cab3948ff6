package crawlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// scriptedSampler 按顺序返回预设值
func scriptedSampler(values ...float64) (MemorySampler, *int) {
	calls := 0
	return func(ctx context.Context) (float64, error) {
		v := values[len(values)-1]
		if calls < len(values) {
			v = values[calls]
		}
		calls++
		return v, nil
	}, &calls
}

func TestResourceMonitor_BelowThreshold(t *testing.T) {
	sampler, calls := scriptedSampler(42.5)
	reclaimed := 0
	slept := time.Duration(0)

	rm := NewResourceMonitor(ResourceMonitorConfig{MemoryThreshold: 80, Cooldown: 2 * time.Second},
		WithSampler(sampler),
		WithReclaimer(func() { reclaimed++ }),
		WithSleep(func(ctx context.Context, d time.Duration) { slept += d }),
	)

	got := rm.Sample(context.Background())
	assert.Equal(t, 42.5, got)
	assert.Equal(t, 1, *calls, "低于阈值只采样一次")
	assert.Equal(t, 0, reclaimed)
	assert.Equal(t, 0, rm.Reclamations())
	assert.Zero(t, slept)
}

func TestResourceMonitor_AtThreshold(t *testing.T) {
	sampler, calls := scriptedSampler(80, 61)
	reclaimed := 0
	slept := time.Duration(0)

	rm := NewResourceMonitor(ResourceMonitorConfig{MemoryThreshold: 80, Cooldown: 2 * time.Second},
		WithSampler(sampler),
		WithReclaimer(func() { reclaimed++ }),
		WithSleep(func(ctx context.Context, d time.Duration) { slept += d }),
	)

	got := rm.Sample(context.Background())
	assert.Equal(t, 61.0, got, "应返回回收后的重新采样值")
	assert.Equal(t, 2, *calls)
	assert.Equal(t, 1, reclaimed, "恰好一次回收")
	assert.Equal(t, 1, rm.Reclamations())
	assert.Equal(t, 2*time.Second, slept)
}

func TestResourceMonitor_StillHighAfterReclaim(t *testing.T) {
	sampler, calls := scriptedSampler(95, 93)
	reclaimed := 0

	rm := NewResourceMonitor(ResourceMonitorConfig{},
		WithSampler(sampler),
		WithReclaimer(func() { reclaimed++ }),
		WithSleep(func(ctx context.Context, d time.Duration) {}),
	)

	assert.Equal(t, 93.0, rm.Sample(context.Background()))
	assert.Equal(t, 2, *calls, "回收后不再循环")
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, DefaultMemoryThreshold, rm.Threshold())
}

func TestResourceMonitor_SamplerError(t *testing.T) {
	reclaimed := 0
	rm := NewResourceMonitor(ResourceMonitorConfig{MemoryThreshold: 80},
		WithSampler(func(ctx context.Context) (float64, error) { return 0, errors.New("no /proc") }),
		WithReclaimer(func() { reclaimed++ }),
	)

	assert.Equal(t, 0.0, rm.Sample(context.Background()), "采样失败记为0")
	assert.Equal(t, 0, reclaimed)
}

func TestResourceMonitor_Pressure(t *testing.T) {
	rm := NewResourceMonitor(ResourceMonitorConfig{MemoryThreshold: 80})
	assert.Equal(t, "normal", rm.pressure(50))
	assert.Equal(t, "warning", rm.pressure(75))
	assert.Equal(t, "critical", rm.pressure(80))
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sleepContext(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second, "取消后应立即返回")
}
