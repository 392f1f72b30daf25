package ws

import (
	"context"
	"sync"

	"github.com/solfeed/txflow/store"
)

// Broadcaster owns the set of live sessions and relays every committed
// transaction from the fan-out bridge into each session's mailbox. Filter
// matching happens per session, where the outbound rate limit lives.
type Broadcaster struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewBroadcaster returns a Broadcaster with no sessions.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{sessions: make(map[*Session]struct{})}
}

func (b *Broadcaster) register(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s] = struct{}{}
	connectionsGauge.Set(float64(len(b.sessions)))
}

func (b *Broadcaster) unregister(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, s)
	connectionsGauge.Set(float64(len(b.sessions)))
}

// Run relays |events| until the channel closes or |ctx| is done.
func (b *Broadcaster) Run(ctx context.Context, events <-chan store.Transaction) error {
	for {
		select {
		case tx, ok := <-events:
			if !ok {
				return nil
			}
			b.mu.Lock()
			for s := range b.sessions {
				s.offer(tx)
			}
			b.mu.Unlock()
		case <-ctx.Done():
			return nil
		}
	}
}
