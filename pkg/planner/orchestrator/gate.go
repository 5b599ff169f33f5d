package orchestrator

import (
	"context"
	"sync"
)

// turnGate serializes turns that share a correlation id. Entries are
// reference counted and dropped once no turn holds or waits for them.
type turnGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	ch   chan struct{}
	refs int
}

func newTurnGate() *turnGate {
	return &turnGate{slots: make(map[string]*gateSlot)}
}

func (g *turnGate) acquire(ctx context.Context, id string) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[id]
	if !ok {
		slot = &gateSlot{ch: make(chan struct{}, 1)}
		g.slots[id] = slot
	}
	slot.refs++
	g.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				g.unref(id, slot)
			})
		}, nil
	case <-ctx.Done():
		g.unref(id, slot)
		return nil, ctx.Err()
	}
}

func (g *turnGate) unref(id string, slot *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, id)
	}
}

func (g *turnGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
