package core

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PacePoint 编排流程中的等待点
type PacePoint string

const (
	PaceSettle       PacePoint = "settle"        // 会话创建后打开锚点页
	PacePreTab       PacePoint = "pre_tab"       // 打开标签页后、切换前
	PaceInterPage    PacePoint = "inter_page"    // 同批次两页之间
	PaceInterBatch   PacePoint = "inter_batch"   // 两个批次之间
	PacePostTeardown PacePoint = "post_teardown" // 会话结束后
)

// Pacer 在命名等待点暂停,ctx取消时立即返回
type Pacer interface {
	Pause(ctx context.Context, point PacePoint) time.Duration
}

// DurationRange 随机等待区间
type DurationRange struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// PacingConfig 各等待点的时长
type PacingConfig struct {
	Settle       time.Duration `mapstructure:"settle" yaml:"settle"`
	PreTab       DurationRange `mapstructure:"pre_tab" yaml:"pre_tab"`
	InterPage    DurationRange `mapstructure:"inter_page" yaml:"inter_page"`
	InterBatch   DurationRange `mapstructure:"inter_batch" yaml:"inter_batch"`
	PostTeardown time.Duration `mapstructure:"post_teardown" yaml:"post_teardown"`
}

// DefaultPacingConfig 默认节奏
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		Settle:       2 * time.Second,
		PreTab:       DurationRange{Min: time.Second, Max: 2 * time.Second},
		InterPage:    DurationRange{Min: time.Second, Max: 2 * time.Second},
		InterBatch:   DurationRange{Min: 8 * time.Second, Max: 15 * time.Second},
		PostTeardown: 2 * time.Second,
	}
}

// JitterPacer 在区间内均匀随机等待
type JitterPacer struct {
	config PacingConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitterPacer 创建随机节奏控制器
func NewJitterPacer(config PacingConfig) *JitterPacer {
	return &JitterPacer{
		config: config,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pause 实现Pacer
func (p *JitterPacer) Pause(ctx context.Context, point PacePoint) time.Duration {
	d := p.duration(point)
	if d <= 0 {
		return 0
	}
	if point == PaceInterBatch {
		log.Info().Str("point", string(point)).Msgf("批次间冷却 %.1f秒", d.Seconds())
	} else {
		log.Debug().Str("point", string(point)).Dur("wait", d).Msg("等待")
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return d
}

func (p *JitterPacer) duration(point PacePoint) time.Duration {
	switch point {
	case PaceSettle:
		return p.config.Settle
	case PacePreTab:
		return p.between(p.config.PreTab)
	case PaceInterPage:
		return p.between(p.config.InterPage)
	case PaceInterBatch:
		return p.between(p.config.InterBatch)
	case PacePostTeardown:
		return p.config.PostTeardown
	}
	return 0
}

func (p *JitterPacer) between(r DurationRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Min + time.Duration(p.rnd.Int63n(int64(r.Max-r.Min)))
}

// NoopPacer 不等待
type NoopPacer struct{}

// Pause 实现Pacer
func (NoopPacer) Pause(ctx context.Context, point PacePoint) time.Duration { return 0 }
