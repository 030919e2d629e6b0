// Package dispatch выполняет фоновые задачи после фиксации оплаты
// (промокод, письма, аналитика) вне запроса, который их породил.
//
// Вызывающий код никогда не ждёт задачу: Go возвращается сразу, результат
// уходит в ErrorHandler и метрики. Количество одновременно выполняемых
// задач ограничено MaxConcurrent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/pkg/metrics"
)

// ErrClosed возвращается в ErrorHandler для задач, поставленных после Shutdown.
var ErrClosed = errors.New("исполнитель фоновых задач остановлен")

// DefaultMaxConcurrent — лимит параллельных задач по умолчанию.
const DefaultMaxConcurrent = 32

// Task — фоновая задача. ctx не отменяется вместе с исходным запросом.
type Task func(ctx context.Context) error

// ErrorHandler получает ошибки и паники задач.
type ErrorHandler func(ctx context.Context, task string, err error)

// Config — настройки Dispatcher.
type Config struct {
	MaxConcurrent int
}

// Dispatcher — исполнитель фоновых задач с ограничением параллелизма.
type Dispatcher struct {
	sem      *semaphore.Weighted
	onError  ErrorHandler
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inFlight atomic.Int64
}

// New создаёт Dispatcher. onError == nil - ошибки только логируются.
func New(cfg Config, onError ErrorHandler) *Dispatcher {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	if onError == nil {
		onError = logError
	}

	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(limit)),
		onError: onError,
	}
}

// Go ставит задачу в очередь и возвращается сразу.
// Отмена ctx вызывающей стороны задачу не прерывает, значения контекста
// (trace_id, order_id) сохраняются.
func (d *Dispatcher) Go(ctx context.Context, name string, fn Task) {
	taskCtx := context.WithoutCancel(ctx)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		metrics.RecordFanoutTask(name, ErrClosed)
		d.onError(taskCtx, name, ErrClosed)
		return
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.wg.Done()

		// Фоновый контекст без отмены, Acquire не вернёт ошибку
		_ = d.sem.Acquire(taskCtx, 1)
		defer d.sem.Release(1)

		d.inFlight.Add(1)
		metrics.FanoutInFlight.Inc()
		defer func() {
			d.inFlight.Add(-1)
			metrics.FanoutInFlight.Dec()
		}()

		err := d.run(taskCtx, fn)
		metrics.RecordFanoutTask(name, err)
		if err != nil {
			d.onError(taskCtx, name, err)
		}
	}()
}

// run выполняет задачу, превращая панику в ошибку.
func (d *Dispatcher) run(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в фоновой задаче: %v", r)
			logger.Ctx(ctx).Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Паника в фоновой задаче")
		}
	}()
	return fn(ctx)
}

// Wait ждёт завершения всех поставленных задач или отмены ctx.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown перестаёт принимать задачи и ждёт уже поставленные.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	return d.Wait(ctx)
}

// InFlight возвращает количество выполняющихся задач.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

func logError(ctx context.Context, task string, err error) {
	logger.Ctx(ctx).Error().Err(err).Str("task", task).Msg("Ошибка фоновой задачи")
}
