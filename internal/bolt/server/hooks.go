package server

import "sync"

// HookFunc reacts to a lifecycle Event. Hooks run synchronously on the
// connection goroutine that publishes the event; a slow hook slows that
// one connection, never the listener, mirroring internal/rtmp/server/
// hooks/hook.go's simple synchronous Hook.Execute contract without the
// teacher's unused HookConfig/context scaffolding (no Bolt component needs
// hook timeouts or concurrency limits, so they were dropped rather than
// carried as dead config).
type HookFunc func(Event)

// EventBus fans an Event out to every subscribed hook.
type EventBus struct {
	mu   sync.RWMutex
	subs []HookFunc
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus { return &EventBus{} }

// Subscribe registers fn to be called for every future Publish.
func (b *EventBus) Subscribe(fn HookFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish synchronously invokes every subscriber with e.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]HookFunc, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
