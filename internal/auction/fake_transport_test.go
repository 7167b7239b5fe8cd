package auction_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/transport"
)

// fakeTransport records outbound messages and lets tests inject inbound ones.
type fakeTransport struct {
	mu       sync.Mutex
	state    transport.State
	sent     []transport.Message
	onMsg    map[int]func(transport.Message)
	onOpen   map[int]func()
	nextID   int
	closed   bool
	ackReply func(msgType string, payload any) (transport.Message, error)
}

func newFakeTransport(state transport.State) *fakeTransport {
	return &fakeTransport{
		state:  state,
		onMsg:  make(map[int]func(transport.Message)),
		onOpen: make(map[int]func()),
	}
}

func (f *fakeTransport) Send(v any) error {
	msg, ok := v.(transport.Message)
	if !ok {
		raw, _ := json.Marshal(v)
		_ = json.Unmarshal(raw, &msg)
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendWithAck(_ context.Context, msgType string, payload any, _ time.Duration) (transport.Message, error) {
	msg, err := transport.NewMessage(msgType, payload)
	if err != nil {
		return transport.Message{}, err
	}
	_ = f.Send(msg)
	if f.ackReply != nil {
		return f.ackReply(msgType, payload)
	}
	return transport.Message{Type: msgType + ".ack"}, nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnMessage(fn func(transport.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.onMsg[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.onMsg, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) OnOpen(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.onOpen[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.onOpen, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// open transitions to Open and fires open listeners.
func (f *fakeTransport) open() {
	f.mu.Lock()
	f.state = transport.StateOpen
	fns := make([]func(), 0, len(f.onOpen))
	for _, fn := range f.onOpen {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// deliver injects an inbound message.
func (f *fakeTransport) deliver(msgType string, payload any) {
	msg, _ := transport.NewMessage(msgType, payload)
	f.mu.Lock()
	fns := make([]func(transport.Message), 0, len(f.onMsg))
	for _, fn := range f.onMsg {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (f *fakeTransport) sentOfType(msgType string) []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Message
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onMsg) + len(f.onOpen)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
