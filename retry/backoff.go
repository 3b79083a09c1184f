package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// Policy 定义重试策略配置
// 遵循 KISS 原则：简单但功能完整的重试策略
type Policy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	Jitter       bool                                              // 是否添加随机抖动（防止雪崩）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultPolicy 返回默认的重试策略
// 适用于大部分外部 API 调用场景
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// WithMaxRetries 返回修改了最大重试次数的策略副本
// 不同操作的重试预算不同：路由与生成 2 次，相似度搜索 1 次
func (p *Policy) WithMaxRetries(n int) *Policy {
	cp := *p
	cp.MaxRetries = n
	return &cp
}

func (p *Policy) normalize() {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
}

// Do 执行函数，失败时根据策略重试并返回结果
// 核心重试逻辑：指数退避 + 随机抖动 + 错误分类过滤
//
// 只有 types.IsRetryable 判定为可恢复的错误（TIMEOUT、TRANSIENT_API_ERROR）
// 才会触发重试；终止性错误（VALIDATION_ERROR 等）只执行一次立即返回。
// 退避等待通过 select 监听 ctx.Done，挂起当前工作流而非阻塞整个进程。
func Do[T any](ctx context.Context, policy *Policy, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy == nil {
		policy = DefaultPolicy()
	}
	policy.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := calculateDelay(policy, attempt)

			logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		// 终止性错误不重试，立即返回
		if !types.IsRetryable(err) {
			logger.Debug("错误不可重试", zap.Error(err))
			return zero, err
		}

		if attempt >= policy.MaxRetries {
			break
		}
	}

	// 所有重试都失败了
	logger.Warn("重试次数耗尽",
		zap.Int("attempts", policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return zero, fmt.Errorf("重试 %d 次后仍失败: %w", policy.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间
// 使用指数退避算法 + 可选的随机抖动
func calculateDelay(policy *Policy, attempt int) time.Duration {
	// 指数退避：delay = initial * multiplier^(attempt-1)
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))

	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	// 随机抖动（±25%），防止多个客户端同时重试导致的雪崩效应
	if policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(policy.InitialDelay) {
		delay = float64(policy.InitialDelay)
	}

	return time.Duration(delay)
}
