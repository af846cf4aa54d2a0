package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
	"github.com/ssvlabs/chain-task-gateway/x/task"
)

func testConsumer(t *testing.T, records task.RecordStore) (*Consumer, *task.MemoryEventLog) {
	t.Helper()
	events := task.NewMemoryEventLog()
	if records == nil {
		records = task.NewMemoryRecordStore()
	}
	cfg := Config{Group: "workers", Consumer: "c1", Workers: 2, Block: 10 * time.Millisecond, TaskTimeout: time.Second}
	c := NewConsumer(cfg, events, records, zerolog.Nop(), NewMetrics(prometheus.NewRegistry()), nil)
	require.NoError(t, events.EnsureGroup(context.Background(), "workers"))
	return c, events
}

func deliver(t *testing.T, events *task.MemoryEventLog, taskName, payload string) task.Entry {
	t.Helper()
	ctx := context.Background()
	_, err := events.Append(ctx, taskName, []byte(payload))
	require.NoError(t, err)
	entries, err := events.ReadGroup(ctx, "workers", "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestProcess_Success(t *testing.T) {
	records := task.NewMemoryRecordStore()
	c, events := testConsumer(t, records)
	c.Handle("createRoom", func(_ context.Context, payload []byte) (*Result, error) {
		assert.JSONEq(t, `{"gameId":"g1"}`, string(payload))
		return &Result{Values: map[string]string{"roomId": "42"}, TxHash: "0xabc"}, nil
	})

	e := deliver(t, events, "createRoom", `{"gameId":"g1"}`)
	c.Process(context.Background(), e)

	rec, err := records.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, rec.Status)
	assert.Equal(t, "42", rec.Result["roomId"])
	assert.Equal(t, "0xabc", rec.Hash)
	assert.Equal(t, `{"gameId":"g1"}`, rec.TaskData)
	assert.False(t, rec.CompletedAt.IsZero())
	assert.Zero(t, events.Pending("workers"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Processed.WithLabelValues("createRoom", "SUCCESS")))
}

func TestProcess_Failures(t *testing.T) {
	hash := common.HexToHash("0xfeed")
	tests := []struct {
		name    string
		handler Handler
		want    []string
	}{
		{
			name: "business failure",
			handler: func(context.Context, []byte) (*Result, error) {
				return nil, fmt.Errorf("createRoom: %w", chain.ErrTransactionReverted)
			},
			want: []string{"transaction reverted"},
		},
		{
			name: "timed out broadcast",
			handler: func(context.Context, []byte) (*Result, error) {
				return nil, &chain.BroadcastError{Chain: "home", TxHash: hash, Err: chain.ErrOperationTimedOut}
			},
			want: []string{"outcome unknown", hash.Hex()},
		},
		{
			name: "panic",
			handler: func(context.Context, []byte) (*Result, error) {
				panic("boom")
			},
			want: []string{"handler panic: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := task.NewMemoryRecordStore()
			c, events := testConsumer(t, records)
			c.Handle("op", tt.handler)

			e := deliver(t, events, "op", `{}`)
			c.Process(context.Background(), e)

			rec, err := records.Get(context.Background(), e.ID)
			require.NoError(t, err)
			assert.Equal(t, task.StatusFailed, rec.Status)
			assert.Empty(t, rec.Hash)
			for _, w := range tt.want {
				assert.Contains(t, rec.ErrorMessage, w)
			}
			assert.Zero(t, events.Pending("workers"))
		})
	}
}

func TestProcess_UnknownTask(t *testing.T) {
	records := task.NewMemoryRecordStore()
	c, events := testConsumer(t, records)

	e := deliver(t, events, "teleport", `{}`)
	c.Process(context.Background(), e)

	rec, err := records.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "unknown task")
}

func TestProcess_AlreadyCompletedIsOnlyAcknowledged(t *testing.T) {
	records := task.NewMemoryRecordStore()
	c, events := testConsumer(t, records)

	var calls atomic.Int32
	c.Handle("op", func(context.Context, []byte) (*Result, error) {
		calls.Add(1)
		return &Result{}, nil
	})

	e := deliver(t, events, "op", `{}`)
	require.NoError(t, records.Put(context.Background(), &task.Record{MessageID: e.ID, Status: task.StatusSuccess}))

	c.Process(context.Background(), e)
	assert.Zero(t, calls.Load())
	assert.Zero(t, events.Pending("workers"))
}

type brokenStore struct{ task.RecordStore }

func (brokenStore) Get(_ context.Context, id string) (*task.Record, error) {
	return nil, task.ErrRecordNotFound
}

func (brokenStore) Put(context.Context, *task.Record) error {
	return errors.New("mongo unavailable")
}

func TestProcess_UnwrittenRecordStaysPending(t *testing.T) {
	c, events := testConsumer(t, brokenStore{})
	c.Handle("op", func(context.Context, []byte) (*Result, error) { return &Result{}, nil })

	e := deliver(t, events, "op", `{}`)
	c.Process(context.Background(), e)
	assert.Equal(t, 1, events.Pending("workers"))
}

func TestConsumer_RunWithSubmitter(t *testing.T) {
	records := task.NewMemoryRecordStore()
	c, events := testConsumer(t, records)
	c.Handle("createRoom", func(ctx context.Context, _ []byte) (*Result, error) {
		return &Result{Values: map[string]string{"roomId": "42"}, TxHash: "0x01"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	resolver := task.NewResolver(records, events, nil)
	submitter := task.NewSubmitter(events, resolver, task.WaitOptions{}, zerolog.Nop(), nil)

	out, err := submitter.EnqueueAndWait(context.Background(), "createRoom", map[string]string{"op": "createRoom", "gameId": "g1"},
		task.WaitOptions{MaxAttempts: 100, Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, out.Status)
	assert.Equal(t, map[string]string{"roomId": "42"}, out.Result)
	assert.Equal(t, "0x01", out.Hash)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_ClaimsStaleTasks(t *testing.T) {
	records := task.NewMemoryRecordStore()
	events := task.NewMemoryEventLog()
	ctx := context.Background()
	require.NoError(t, events.EnsureGroup(ctx, "workers"))

	id, err := events.Append(ctx, "op", []byte(`{}`))
	require.NoError(t, err)
	// A consumer that died after reading.
	_, err = events.ReadGroup(ctx, "workers", "dead", 1, 0)
	require.NoError(t, err)

	cfg := Config{Group: "workers", Consumer: "alive", Block: 10 * time.Millisecond, ClaimIdle: time.Nanosecond, ClaimInterval: 10 * time.Millisecond}
	c := NewConsumer(cfg, events, records, zerolog.Nop(), nil, nil)
	c.Handle("op", func(context.Context, []byte) (*Result, error) { return &Result{}, nil })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	require.Eventually(t, func() bool {
		_, err := records.Get(ctx, id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "boom", FailureMessage(errors.New("boom")))
	assert.Contains(t, FailureMessage(context.DeadlineExceeded), "outcome unknown")
}

func TestNewConsumer_GeneratesName(t *testing.T) {
	c := NewConsumer(Config{}, task.NewMemoryEventLog(), task.NewMemoryRecordStore(), zerolog.Nop(), nil, nil)
	assert.NotEmpty(t, c.Name())
	assert.NotEqual(t, c.Name(), NewConsumer(Config{}, nil, nil, zerolog.Nop(), nil, nil).Name())
}

func TestConsumer_SlowTaskIsNotClaimedAgain(t *testing.T) {
	records := task.NewMemoryRecordStore()
	events := task.NewMemoryEventLog()
	ctx := context.Background()

	var runs atomic.Int32
	slow := func(ctx context.Context, _ []byte) (*Result, error) {
		runs.Add(1)
		if err := sleepCtx(ctx, 400*time.Millisecond); err != nil {
			return nil, err
		}
		return &Result{TxHash: "0x01"}, nil
	}

	cfg := Config{
		Group:         "workers",
		Consumer:      "c1",
		Workers:       2,
		Block:         10 * time.Millisecond,
		ClaimIdle:     100 * time.Millisecond,
		ClaimInterval: 20 * time.Millisecond,
		TaskTimeout:   time.Second,
	}
	c := NewConsumer(cfg, events, records, zerolog.Nop(), nil, nil)
	c.Handle("payChips", slow)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	id, err := events.Append(ctx, "payChips", []byte(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := records.Get(ctx, id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(1), runs.Load(), "one task must run its handler once")
	assert.Equal(t, 0, events.Pending("workers"))

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_RunningTaskKeepsOwnershipAcrossConsumers(t *testing.T) {
	records := task.NewMemoryRecordStore()
	events := task.NewMemoryEventLog()
	ctx := context.Background()

	var runs atomic.Int32
	slow := func(ctx context.Context, _ []byte) (*Result, error) {
		runs.Add(1)
		return &Result{}, sleepCtx(ctx, 400*time.Millisecond)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped []chan error
	for _, name := range []string{"c1", "c2"} {
		c := NewConsumer(Config{
			Group:         "workers",
			Consumer:      name,
			Workers:       1,
			Block:         10 * time.Millisecond,
			ClaimIdle:     100 * time.Millisecond,
			ClaimInterval: 20 * time.Millisecond,
			TaskTimeout:   time.Second,
		}, events, records, zerolog.Nop(), nil, nil)
		c.Handle("mintToken", slow)

		done := make(chan error, 1)
		stopped = append(stopped, done)
		go func() { done <- c.Run(runCtx) }()
	}

	id, err := events.Append(ctx, "mintToken", []byte(`{}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := records.Get(ctx, id)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	cancel()
	for _, done := range stopped {
		require.NoError(t, <-done)
	}
}

func TestDispatch_SkipsEntriesInFlight(t *testing.T) {
	c, _ := testConsumer(t, nil)
	require.True(t, c.track("1-0"))
	assert.False(t, c.track("1-0"))
	assert.Equal(t, []string{"1-0"}, c.inflightIDs())

	c.untrack("1-0")
	assert.Empty(t, c.inflightIDs())
	assert.True(t, c.track("1-0"))
}
