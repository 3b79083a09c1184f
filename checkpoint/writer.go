package checkpoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Writer 异步检查点写入器
// 请求路径只负责入队（非阻塞），专用后台协程消费队列写入存储，
// 检查点延迟因此永远不会拖慢响应。队列满或写入失败只记录日志。
type Writer struct {
	store   Store
	queue   chan *Record
	logger  *zap.Logger
	timeout time.Duration

	// onDrop 在记录被丢弃时回调（指标上报用），可为 nil
	onDrop func()

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WriterOption 写入器可选配置
type WriterOption func(*Writer)

// WithQueueSize 设置队列容量
func WithQueueSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan *Record, n)
		}
	}
}

// WithWriteTimeout 设置单次写入超时
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithDropCallback 设置丢弃回调
func WithDropCallback(fn func()) WriterOption {
	return func(w *Writer) {
		w.onDrop = fn
	}
}

// NewWriter 创建并启动异步写入器
func NewWriter(store Store, logger *zap.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Writer{
		store:   store,
		queue:   make(chan *Record, 256),
		logger:  logger.With(zap.String("component", "checkpoint_writer")),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// Enqueue 非阻塞入队一条检查点记录
// 队列已满时丢弃并记录警告，绝不阻塞请求路径
func (w *Writer) Enqueue(record *Record) {
	select {
	case w.queue <- record:
	default:
		w.logger.Warn("checkpoint queue full, dropping record",
			zap.String("session_id", record.SessionID),
			zap.String("step", record.StepName),
		)
		if w.onDrop != nil {
			w.onDrop()
		}
	}
}

// loop 后台消费协程
func (w *Writer) loop() {
	defer w.wg.Done()

	for record := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.store.Save(ctx, record); err != nil {
			w.logger.Warn("checkpoint write failed",
				zap.String("session_id", record.SessionID),
				zap.String("step", record.StepName),
				zap.Error(err),
			)
			if w.onDrop != nil {
				w.onDrop()
			}
		}
		cancel()
	}
}

// Close 停止写入器并排空队列中剩余的记录
func (w *Writer) Close() {
	w.stopOnce.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}
