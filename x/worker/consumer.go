// Package worker consumes tasks from the event log, runs the handler for each
// task name and writes the terminal record exactly once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
	"github.com/ssvlabs/chain-task-gateway/x/task"
)

// Result is what a handler reports for a successful task.
type Result struct {
	Values map[string]string
	TxHash string
}

// Handler executes one task payload.
type Handler func(ctx context.Context, payload []byte) (*Result, error)

// Consumer reads tasks for one consumer group and dispatches them by name.
type Consumer struct {
	cfg         Config
	events      task.ConsumerLog
	records     task.RecordStore
	pool        *WorkerPool
	log         zerolog.Logger
	metrics     *Metrics
	taskMetrics *task.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler

	// inflight holds IDs queued or running in this process.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewConsumer(cfg Config, events task.ConsumerLog, records task.RecordStore, log zerolog.Logger, m *Metrics, tm *task.Metrics) *Consumer {
	cfg = cfg.withDefaults()
	if cfg.Consumer == "" {
		cfg.Consumer = consumerName()
	}
	log = log.With().Str("component", "task-consumer").Str("consumer", cfg.Consumer).Logger()

	return &Consumer{
		cfg:         cfg,
		events:      events,
		records:     records,
		pool:        NewWorkerPool(cfg.Workers, log),
		log:         log,
		metrics:     m,
		taskMetrics: tm,
		handlers:    make(map[string]Handler),
		inflight:    make(map[string]struct{}),
	}
}

// Handle registers h for taskName, replacing any previous handler.
func (c *Consumer) Handle(taskName string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[taskName] = h
}

func (c *Consumer) handler(taskName string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[taskName]
	return h, ok
}

func (c *Consumer) Name() string { return c.cfg.Consumer }

// Run consumes until ctx is cancelled, then waits for running tasks. Tasks
// keep running after cancellation, bounded by the task timeout, so a
// broadcast in progress is not cut off by shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.events.EnsureGroup(ctx, c.cfg.Group); err != nil {
		return err
	}

	c.pool.Start(ctx, context.WithoutCancel(ctx))
	defer c.pool.Stop()

	c.log.Info().Str("group", c.cfg.Group).Msg("Consumer started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	if c.cfg.ClaimIdle > 0 {
		g.Go(func() error { return c.claimLoop(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	c.log.Info().Msg("Consumer stopped")
	return err
}

func (c *Consumer) readLoop(ctx context.Context) error {
	for {
		entries, err := c.events.ReadGroup(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.BatchSize, c.cfg.Block)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.Error().Err(err).Msg("Read from task log failed")
			if err := sleepCtx(ctx, c.cfg.Block); err != nil {
				return err
			}
			continue
		}
		if err := c.dispatch(ctx, entries); err != nil {
			return err
		}
	}
}

func (c *Consumer) claimLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Our own entries must look busy before anyone looks for idle ones.
		c.refreshOwnership(ctx)

		entries, err := c.events.Claim(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.ClaimIdle, c.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn().Err(err).Msg("Claim of stale tasks failed")
			continue
		}
		if len(entries) > 0 {
			c.metrics.RecordClaimed(len(entries))
			c.log.Info().Int("count", len(entries)).Msg("Claimed stale tasks")
		}
		if err := c.dispatch(ctx, entries); err != nil {
			return err
		}
	}
}

// dispatch queues entries on the pool. An entry already queued or running
// here is skipped, so a claim never starts a second execution of it.
func (c *Consumer) dispatch(ctx context.Context, entries []task.Entry) error {
	for _, e := range entries {
		if !c.track(e.ID) {
			c.log.Debug().Str("task_id", e.ID).Msg("Task already in flight, skipping")
			continue
		}
		job := JobFunc(func(ctx context.Context) {
			defer c.untrack(e.ID)
			c.Process(ctx, e)
		})
		if err := c.pool.Submit(ctx, job); err != nil {
			c.untrack(e.ID)
			return err
		}
	}
	return nil
}

func (c *Consumer) track(id string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if _, ok := c.inflight[id]; ok {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Consumer) untrack(id string) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	delete(c.inflight, id)
}

func (c *Consumer) inflightIDs() []string {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	ids := make([]string, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	return ids
}

// refreshOwnership resets the idle time of every entry queued or running
// here, so other consumers do not claim work that is still in progress.
func (c *Consumer) refreshOwnership(ctx context.Context) {
	ids := c.inflightIDs()
	if len(ids) == 0 {
		return
	}
	if err := c.events.Touch(ctx, c.cfg.Group, c.cfg.Consumer, ids...); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Int("count", len(ids)).Msg("Failed to refresh ownership of running tasks")
	}
}

// Process runs one entry to completion: execute, record, acknowledge. An
// entry whose record cannot be written stays unacknowledged and is claimed
// again later.
func (c *Consumer) Process(ctx context.Context, e task.Entry) {
	log := c.log.With().Str("task_id", e.ID).Str("task", e.TaskName).Logger()

	// Redelivery after a crash between writing the record and the ack.
	if _, err := c.records.Get(ctx, e.ID); err == nil {
		log.Debug().Msg("Task already completed, acknowledging")
		c.ack(ctx, e, log)
		return
	}

	c.metrics.IncInFlight()
	start := time.Now()
	rec := c.execute(ctx, e, log)
	c.metrics.DecInFlight()

	if err := c.records.Put(ctx, rec); err != nil {
		if !errors.Is(err, task.ErrAlreadyCompleted) {
			log.Error().Err(err).Msg("Failed to write task record")
			return
		}
		log.Warn().Msg("Task record already written by another consumer")
	} else {
		c.taskMetrics.RecordCompleted(e.TaskName, rec.Status)
	}
	c.metrics.RecordProcessed(e.TaskName, string(rec.Status), time.Since(start))

	ev := log.Info()
	if rec.Status == task.StatusFailed {
		ev = log.Warn().Str("error", rec.ErrorMessage)
	}
	ev.Str("status", string(rec.Status)).Str("tx_hash", rec.Hash).Dur("elapsed", time.Since(start)).Msg("Task completed")

	c.ack(ctx, e, log)
}

func (c *Consumer) execute(ctx context.Context, e task.Entry, log zerolog.Logger) *task.Record {
	rec := &task.Record{
		MessageID: e.ID,
		TaskName:  e.TaskName,
		TaskData:  string(e.Payload),
	}

	h, ok := c.handler(e.TaskName)
	if !ok {
		log.Error().Msg("No handler for task")
		rec.Status = task.StatusFailed
		rec.ErrorMessage = fmt.Sprintf("unknown task %q", e.TaskName)
		rec.CompletedAt = time.Now().UTC()
		return rec
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	res, err := runHandler(taskCtx, h, e.Payload)
	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.Status = task.StatusFailed
		rec.ErrorMessage = FailureMessage(err)
		return rec
	}

	rec.Status = task.StatusSuccess
	if res != nil {
		rec.Result = res.Values
		rec.Hash = res.TxHash
	}
	return rec
}

func runHandler(ctx context.Context, h Handler, payload []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}

// FailureMessage renders err for a FAILED record. A transaction whose
// outcome is unknown is called out with its hash, since it may still land.
func FailureMessage(err error) string {
	if errors.Is(err, chain.ErrOperationTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		if hash, ok := chain.TxHashOf(err); ok {
			return fmt.Sprintf("outcome unknown, transaction %s may still land: %v", hash.Hex(), err)
		}
		return fmt.Sprintf("outcome unknown: %v", err)
	}
	return err.Error()
}

func (c *Consumer) ack(ctx context.Context, e task.Entry, log zerolog.Logger) {
	if err := c.events.Ack(ctx, c.cfg.Group, e.ID); err != nil {
		log.Error().Err(err).Msg("Failed to acknowledge task")
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gateway"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
