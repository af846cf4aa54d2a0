package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryEventLog is an in-process EventLog with consumer groups, used by tests
// and by the "memory" backend. IDs follow the <millis>-<seq> stream format.
type MemoryEventLog struct {
	mu      sync.Mutex
	entries []memEntry
	index   map[string]struct{}
	groups  map[string]*memGroup
	lastMs  int64
	lastSeq int64
	seq     uint64
	notify  chan struct{}
	now     func() time.Time
}

type memEntry struct {
	seq uint64
	Entry
}

type memGroup struct {
	next    uint64
	pending map[string]*memPending
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		index:  make(map[string]struct{}),
		groups: make(map[string]*memGroup),
		notify: make(chan struct{}),
		now:    time.Now,
	}
}

func (l *MemoryEventLog) Append(_ context.Context, taskName string, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ms := l.now().UnixMilli()
	if ms > l.lastMs {
		l.lastMs, l.lastSeq = ms, 0
	} else {
		l.lastSeq++
	}
	id := fmt.Sprintf("%d-%d", l.lastMs, l.lastSeq)

	l.seq++
	l.entries = append(l.entries, memEntry{
		seq:   l.seq,
		Entry: Entry{ID: id, TaskName: taskName, Payload: append([]byte(nil), payload...)},
	})
	l.index[id] = struct{}{}

	close(l.notify)
	l.notify = make(chan struct{})

	return id, nil
}

func (l *MemoryEventLog) Exists(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.index[id]
	return ok, nil
}

// Trim drops the oldest entries until at most maxLen remain and returns how
// many were removed.
func (l *MemoryEventLog) Trim(maxLen int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if maxLen < 0 || len(l.entries) <= maxLen {
		return 0
	}
	removed := len(l.entries) - maxLen
	for _, e := range l.entries[:removed] {
		delete(l.index, e.ID)
	}
	l.entries = append([]memEntry(nil), l.entries[removed:]...)
	return removed
}

func (l *MemoryEventLog) EnsureGroup(_ context.Context, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.groups[group]; !ok {
		l.groups[group] = &memGroup{next: 1, pending: make(map[string]*memPending)}
	}
	return nil
}

func (l *MemoryEventLog) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	var deadline <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		deadline = t.C
	}

	for {
		entries, wait, err := l.deliver(group, consumer, count)
		if err != nil || len(entries) > 0 || block <= 0 {
			return entries, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wait:
		}
	}
}

func (l *MemoryEventLog) deliver(group, consumer string, count int) ([]Entry, <-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return nil, nil, fmt.Errorf("consumer group %q does not exist", group)
	}

	var out []Entry
	for _, e := range l.entries {
		if count > 0 && len(out) >= count {
			break
		}
		if e.seq < g.next {
			continue
		}
		g.pending[e.ID] = &memPending{consumer: consumer, deliveredAt: l.now()}
		g.next = e.seq + 1
		out = append(out, e.Entry)
	}
	return out, l.notify, nil
}

func (l *MemoryEventLog) Claim(_ context.Context, group, consumer string, minIdle time.Duration, count int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return nil, fmt.Errorf("consumer group %q does not exist", group)
	}

	now := l.now()
	var out []Entry
	for _, e := range l.entries {
		if count > 0 && len(out) >= count {
			break
		}
		p, ok := g.pending[e.ID]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer, p.deliveredAt = consumer, now
		out = append(out, e.Entry)
	}
	return out, nil
}

func (l *MemoryEventLog) Touch(_ context.Context, group, consumer string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return fmt.Errorf("consumer group %q does not exist", group)
	}
	now := l.now()
	for _, id := range ids {
		if p, ok := g.pending[id]; ok {
			p.consumer, p.deliveredAt = consumer, now
		}
	}
	return nil
}

func (l *MemoryEventLog) Ack(_ context.Context, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.groups[group]
	if !ok {
		return fmt.Errorf("consumer group %q does not exist", group)
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Pending returns the number of delivered but unacknowledged entries of group.
func (l *MemoryEventLog) Pending(group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if g, ok := l.groups[group]; ok {
		return len(g.pending)
	}
	return 0
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*Record)}
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryRecordStore) Put(_ context.Context, rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.MessageID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, rec.MessageID)
	}
	cp := *rec
	s.records[rec.MessageID] = &cp
	return nil
}
