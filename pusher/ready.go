package pusher

import "sync"

// ReadyGroup holds clients until the application signals it is ready, then
// connects them. Clients registered after Ready connect immediately.
type ReadyGroup struct {
	mu      sync.Mutex
	ready   bool
	clients []*Client
}

func NewReadyGroup() *ReadyGroup {
	return &ReadyGroup{}
}

func (g *ReadyGroup) Register(c *Client) {
	g.mu.Lock()
	g.clients = append(g.clients, c)
	ready := g.ready
	g.mu.Unlock()

	if ready {
		c.Connect()
	}
}

// Remove forgets c. It does not disconnect it.
func (g *ReadyGroup) Remove(c *Client) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, registered := range g.clients {
		if registered == c {
			g.clients = append(g.clients[:i], g.clients[i+1:]...)
			return
		}
	}
}

// Ready connects every registered client that is not connected yet.
func (g *ReadyGroup) Ready() {
	g.mu.Lock()
	g.ready = true
	clients := make([]*Client, len(g.clients))
	copy(clients, g.clients)
	g.mu.Unlock()

	for _, c := range clients {
		if !c.IsConnected() {
			c.Connect()
		}
	}
}

func (g *ReadyGroup) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}
