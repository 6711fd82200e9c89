package sync

import (
	"sync"

	"go.uber.org/zap"
)

// Listener receives state snapshots.
type Listener func(State)

// Broadcaster fans State snapshots out to registered listeners.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	logger    *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// Subscribe registers l and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Broadcaster) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan delivers snapshots on a buffered channel. When the consumer
// falls behind, snapshots are dropped rather than blocking the engine.
// The channel is closed by the returned unsubscribe function.
func (b *Broadcaster) SubscribeChan(buf int) (<-chan State, func()) {
	ch := make(chan State, buf)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsub := b.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- s:
		default:
			b.logger.Debug("dropping state for slow subscriber", zap.String("status", string(s.Status)))
		}
	})
	return ch, func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// Len returns the number of registered listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Publish calls every listener with s. Listeners run outside the lock, so
// they may subscribe or unsubscribe; a panicking listener is logged and
// does not affect the others.
func (b *Broadcaster) Publish(s State) {
	b.mu.Lock()
	ls := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()

	for _, l := range ls {
		b.deliver(l, s.clone())
	}
}

func (b *Broadcaster) deliver(l Listener, s State) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("state listener panicked", zap.Any("panic", r))
		}
	}()
	l(s)
}
