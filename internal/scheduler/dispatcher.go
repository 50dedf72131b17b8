package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aitastack/aita-fusion/internal/engine"
	"github.com/aitastack/aita-fusion/internal/metrics"
)

// Queue names an isolated work queue with its own workers.
type Queue string

const (
	QueueCorrelation Queue = "correlation"
	QueueML          Queue = "ml"
	QueueNLP         Queue = "nlp"
	QueueIngestion   Queue = "ingestion"
)

// Queues lists every queue the dispatcher runs.
var Queues = []Queue{QueueCorrelation, QueueML, QueueNLP, QueueIngestion}

var (
	// ErrQueueFull is returned when a queue cannot accept more tasks.
	ErrQueueFull = errors.New("queue full")
	// ErrStopped is returned when submitting to a stopped dispatcher.
	ErrStopped = errors.New("dispatcher stopped")
)

// Task is one unit of queued work. Run reports its disposition through an Outcome;
// retryable outcomes are re-enqueued after the policy backoff.
type Task struct {
	Name  string
	Queue Queue
	Run   func(ctx context.Context) engine.Outcome

	attempt int
}

// Config sizes the queues.
type Config struct {
	Workers int
	Depth   int
}

// Dispatcher runs cron-triggered and on-demand tasks on isolated queues.
type Dispatcher struct {
	logger *slog.Logger
	cron   *cron.Cron
	queues map[Queue]chan Task
	cfg    Config
	after  func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher constructs a dispatcher. Call Start to begin processing.
func NewDispatcher(logger *slog.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 64
	}
	queues := make(map[Queue]chan Task, len(Queues))
	for _, q := range Queues {
		queues[q] = make(chan Task, cfg.Depth)
	}
	return &Dispatcher{
		logger: logger.With(slog.String("component", "scheduler")),
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		queues: queues,
		cfg:    cfg,
		after:  time.AfterFunc,
		timers: make(map[*time.Timer]struct{}),
	}
}

// Schedule submits a fresh task built by newTask on every tick of spec.
func (d *Dispatcher) Schedule(spec string, newTask func() Task) error {
	_, err := d.cron.AddFunc(spec, func() {
		task := newTask()
		if err := d.Submit(task); err != nil {
			d.logger.Warn("scheduled task dropped", slog.String("task", task.Name), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Submit enqueues task without blocking.
func (d *Dispatcher) Submit(task Task) error {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	q, ok := d.queues[task.Queue]
	if !ok {
		return fmt.Errorf("unknown queue %q", task.Queue)
	}
	select {
	case q <- task:
		return nil
	default:
		return fmt.Errorf("%s: %w", task.Queue, ErrQueueFull)
	}
}

// Start launches the queue workers and the cron clock.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for _, q := range Queues {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.work(ctx, q, d.queues[q])
		}
	}
	d.cron.Start()
	d.logger.Info("scheduler started", slog.Int("workers_per_queue", d.cfg.Workers))
}

// Stop halts the clock, cancels pending retries and waits for running tasks until ctx
// expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = map[*time.Timer]struct{}{}
	cancel := d.cancel
	d.mu.Unlock()

	cronDone := d.cron.Stop()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
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

func (d *Dispatcher) work(ctx context.Context, q Queue, tasks <-chan Task) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-tasks:
			d.run(ctx, q, task)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, q Queue, task Task) {
	outcome := d.invoke(ctx, task)
	logger := d.logger.With(
		slog.String("task", task.Name),
		slog.String("queue", string(q)),
		slog.Int("attempt", task.attempt+1),
	)

	switch outcome.Status {
	case engine.StatusSuccess:
		logger.Debug("task completed")
	case engine.StatusRetryable:
		if task.attempt >= outcome.Retry.MaxRetries {
			logger.Error("task exhausted retries", slog.Any("error", outcome.Err))
			return
		}
		task.attempt++
		metrics.ObserveRetry(task.Name)
		logger.Warn("task failed, retry scheduled",
			slog.Duration("backoff", outcome.Retry.Backoff),
			slog.Any("error", outcome.Err),
		)
		d.retryLater(outcome.Retry.Backoff, task)
	default:
		logger.Error("task failed permanently", slog.Any("error", outcome.Err))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, task Task) (outcome engine.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = engine.Outcome{Status: engine.StatusFatal, Err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	return task.Run(ctx)
}

func (d *Dispatcher) retryLater(backoff time.Duration, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	var timer *time.Timer
	timer = d.after(backoff, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		d.mu.Unlock()
		if err := d.Submit(task); err != nil {
			d.logger.Warn("retry dropped", slog.String("task", task.Name), slog.Any("error", err))
		}
	})
	if timer != nil {
		d.timers[timer] = struct{}{}
	}
}
