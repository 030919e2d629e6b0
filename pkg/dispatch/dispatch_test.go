package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

// errorRecorder собирает ошибки, пришедшие в ErrorHandler.
type errorRecorder struct {
	mu   sync.Mutex
	errs map[string]error
}

func newRecorder() *errorRecorder {
	return &errorRecorder{errs: map[string]error{}}
}

func (r *errorRecorder) handle(_ context.Context, task string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[task] = err
}

func (r *errorRecorder) get(task string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[task]
}

func TestDispatcher_RunsTasks(t *testing.T) {
	rec := newRecorder()
	d := New(Config{MaxConcurrent: 2}, rec.handle)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		d.Go(context.Background(), "inc", func(context.Context) error {
			count.Add(1)
			return nil
		})
	}

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, int32(10), count.Load())
	assert.Nil(t, rec.get("inc"))
	assert.Equal(t, int64(0), d.InFlight())
}

func TestDispatcher_ErrorGoesToHandler(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, rec.handle)
	boom := errors.New("smtp недоступен")

	d.Go(context.Background(), "email", func(context.Context) error { return boom })

	require.NoError(t, d.Wait(context.Background()))
	assert.ErrorIs(t, rec.get("email"), boom)
}

func TestDispatcher_PanicRecovered(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, rec.handle)

	d.Go(context.Background(), "panic", func(context.Context) error { panic("nil map") })

	require.NoError(t, d.Wait(context.Background()))
	require.Error(t, rec.get("panic"))
	assert.Contains(t, rec.get("panic").Error(), "nil map")
}

func TestDispatcher_DetachedFromCallerCancel(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, rec.handle)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "order-1"))
	release := make(chan struct{})
	var gotValue any
	var gotErr error

	d.Go(ctx, "detached", func(taskCtx context.Context) error {
		<-release
		gotValue = taskCtx.Value(ctxKey{})
		gotErr = taskCtx.Err()
		return nil
	})

	cancel()
	close(release)

	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, "order-1", gotValue)
	assert.NoError(t, gotErr)
}

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	d := New(Config{MaxConcurrent: 2}, nil)

	var current, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		d.Go(context.Background(), "limited", func(context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		})
	}

	assert.Eventually(t, func() bool { return d.InFlight() == 2 }, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, d.Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_WaitTimeout(t *testing.T) {
	d := New(Config{}, nil)
	release := make(chan struct{})
	defer close(release)

	d.Go(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)
}

func TestDispatcher_ShutdownRejectsNewTasks(t *testing.T) {
	rec := newRecorder()
	d := New(Config{}, rec.handle)

	require.NoError(t, d.Shutdown(context.Background()))

	called := false
	d.Go(context.Background(), "late", func(context.Context) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.ErrorIs(t, rec.get("late"), ErrClosed)
}
