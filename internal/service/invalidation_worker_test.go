package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerExecutesJobs(t *testing.T) {
	w := NewInvalidationWorker(64)
	stop := w.Start(2)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = stop(ctx)
	}()

	var done int64
	for i := 0; i < 20; i++ {
		w.Enqueue("job", func(ctx context.Context) {
			atomic.AddInt64(&done, 1)
		})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&done) == 20
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWorkerJobsGetBoundedContext(t *testing.T) {
	w := NewInvalidationWorker(8)
	stop := w.Start(1)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = stop(ctx)
	}()

	got := make(chan bool, 1)
	w.Enqueue("ctx_check", func(ctx context.Context) {
		_, ok := ctx.Deadline()
		got <- ok
	})

	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestWorkerDropsWhenFull(t *testing.T) {
	// 不启动消费者：容量 1，第二条任务必须被丢弃而不是阻塞
	w := NewInvalidationWorker(1)
	w.Enqueue("first", func(ctx context.Context) {})

	doneCh := make(chan struct{})
	go func() {
		w.Enqueue("second", func(ctx context.Context) {})
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on full queue")
	}
	assert.Equal(t, 1, w.QueueLen())
}

func TestWorkerReportsLatency(t *testing.T) {
	w := NewInvalidationWorker(8)
	stop := w.Start(1)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = stop(ctx)
	}()

	w.Enqueue("timed", func(ctx context.Context) {})

	select {
	case d := <-w.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no latency sample")
	}
}
