package runner

import (
	"context"
	"sync"
	"time"

	"stressq/internal/client"
)

type connState interface {
	IsConnected() bool
}

// registry tracks every handle created during a run so shutdown can close
// whatever the workers left open.
type registry struct {
	mu         sync.Mutex
	clients    []client.Client
	keepAlives []client.KeepAlive
}

func (g *registry) add(c client.Client) {
	g.mu.Lock()
	g.clients = append(g.clients, c)
	g.mu.Unlock()
}

func (g *registry) addKeepAlive(k client.KeepAlive) {
	g.mu.Lock()
	g.keepAlives = append(g.keepAlives, k)
	g.mu.Unlock()
}

func (g *registry) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients) + len(g.keepAlives)
}

// drain empties the registry. Every client has auto-reconnect disabled and,
// when still connected, gets one bounded disconnect. It returns how many
// handles needed closing; failures are ignored.
func (g *registry) drain(ctx context.Context, timeout time.Duration) int {
	g.mu.Lock()
	clients, keepAlives := g.clients, g.keepAlives
	g.clients, g.keepAlives = nil, nil
	g.mu.Unlock()

	closed := 0
	for _, c := range clients {
		c.SetAutoReconnect(false)
		if !c.IsConnected() {
			continue
		}
		closed++
		_ = run(ctx, timeout, c.Disconnect)
	}
	for _, k := range keepAlives {
		if s, ok := k.(connState); ok && !s.IsConnected() {
			continue
		}
		closed++
		_ = run(ctx, timeout, k.Stop)
	}
	return closed
}
