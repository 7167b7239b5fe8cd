package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
)

type ackResult struct {
	msg Message
	err error
}

type pendingAck struct {
	ch    chan ackResult
	timer *time.Timer
}

// ackTable tracks request/ack correlations. Each entry resolves exactly once:
// by a matching reply, by its timer, or by cancellation.
type ackTable struct {
	mu        sync.Mutex
	pending   map[string]*pendingAck
	onTimeout func(id string)
}

func newAckTable(onTimeout func(id string)) *ackTable {
	return &ackTable{
		pending:   make(map[string]*pendingAck),
		onTimeout: onTimeout,
	}
}

// add registers id and returns the channel its result will be delivered on.
func (t *ackTable) add(id string, timeout time.Duration) <-chan ackResult {
	p := &pendingAck{ch: make(chan ackResult, 1)}

	t.mu.Lock()
	t.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { t.expire(id) })
	t.mu.Unlock()

	return p.ch
}

// resolve completes the entry matching msg's correlation id, if any.
func (t *ackTable) resolve(msg Message) bool {
	id := msg.CorrelationID()
	if id == "" {
		return false
	}
	p := t.take(id)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.ch <- ackResult{msg: msg}
	return true
}

func (t *ackTable) expire(id string) {
	p := t.take(id)
	if p == nil {
		return
	}
	if t.onTimeout != nil {
		t.onTimeout(id)
	}
	p.ch <- ackResult{err: fmt.Errorf("transport: ack %s: %w", id, domain.ErrAckTimeout)}
}

// cancel drops id without delivering a result.
func (t *ackTable) cancel(id string) {
	if p := t.take(id); p != nil {
		p.timer.Stop()
	}
}

func (t *ackTable) take(id string) *pendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

func (t *ackTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
