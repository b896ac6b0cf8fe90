package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cirkle/backend/pkg/logger"
)

type invalidateJob struct {
	name  string
	fn    func(context.Context)
	enqAt time.Time
}

// InvalidationWorker 异步缓存失效执行器；失效永远在写提交之后排队执行
type InvalidationWorker struct {
	ch        chan invalidateJob
	metricsCh chan time.Duration
}

func NewInvalidationWorker(queueSize int) *InvalidationWorker {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &InvalidationWorker{ch: make(chan invalidateJob, queueSize), metricsCh: make(chan time.Duration, 65536)}
}

func (w *InvalidationWorker) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-w.ch:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					job.fn(ctx)
					cancel()
					if !job.enqAt.IsZero() {
						select {
						case w.metricsCh <- time.Since(job.enqAt):
						default:
						}
					}
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(w.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

// Enqueue submits a fire-and-forget invalidation. A full queue drops the job
// with a warning; TTLs bound the resulting staleness.
func (w *InvalidationWorker) Enqueue(name string, fn func(context.Context)) {
	select {
	case w.ch <- invalidateJob{name: name, fn: fn, enqAt: time.Now()}:
	default:
		logger.Warn("invalidation queue full, drop job", zap.String("job", name))
	}
}

// Metrics 返回失效落地耗时的只读通道（每处理一条发送一次 duration）。
func (w *InvalidationWorker) Metrics() <-chan time.Duration { return w.metricsCh }

// QueueLen 返回当前队列长度（采样值）。
func (w *InvalidationWorker) QueueLen() int { return len(w.ch) }
