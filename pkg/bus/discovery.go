package bus

import (
	"slices"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

// discoveryQuery is an outstanding FindFirstClient call. Guarded by
// Channel.mu.
type discoveryQuery struct {
	filter   wire.ClientMetadata
	lastPing time.Time

	done     bool
	client   wire.ClientID
	metadata wire.ClientMetadata
}

// FindFirstClient broadcasts a discovery query and returns the first
// client whose advertised metadata satisfies filter. The query is repeated
// every Config.DiscoveryInterval; wire.ErrNotReady is returned if nobody
// answers within timeout.
func (c *Channel) FindFirstClient(filter wire.ClientMetadata, timeout time.Duration) (wire.ClientID, wire.ClientMetadata, error) {
	c.mu.Lock()
	if c.state != StateRegistered {
		c.mu.Unlock()
		return wire.BroadcastClientID, wire.ClientMetadata{}, c.notConnected()
	}
	q := &discoveryQuery{filter: filter, lastPing: time.Now()}
	c.queries = append(c.queries, q)
	src := c.clientID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.queries = slices.DeleteFunc(c.queries, func(other *discoveryQuery) bool { return other == q })
		c.mu.Unlock()
	}()

	if err := c.write(pingFrame(src, filter)); err != nil {
		return wire.BroadcastClientID, wire.ClientMetadata{}, err
	}
	c.logControl(log.Out, log.OpPing, nil)

	found := func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return q.done
	}
	if err := c.wait(timeout, found); err != nil {
		return wire.BroadcastClientID, wire.ClientMetadata{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return q.client, q.metadata, nil
}

// serviceQueries repeats the ping of every unanswered query that is due.
func (c *Channel) serviceQueries(now time.Time) {
	c.mu.Lock()
	src := c.clientID
	var due []wire.ClientMetadata
	for _, q := range c.queries {
		if !q.done && now.Sub(q.lastPing) >= c.cfg.DiscoveryInterval {
			q.lastPing = now
			due = append(due, q.filter)
		}
	}
	c.mu.Unlock()

	for _, filter := range due {
		_ = c.write(pingFrame(src, filter))
	}
}

// completeQueries resolves every open query the responder satisfies.
func (c *Channel) completeQueries(src wire.ClientID, md wire.ClientMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queries {
		if !q.done && wire.Matches(q.filter, md) {
			q.done = true
			q.client = src
			q.metadata = md
		}
	}
}

// answerPing replies to a discovery query this client satisfies.
func (c *Channel) answerPing(h *wire.MessageHeader) {
	c.mu.Lock()
	me, md := c.clientID, c.metadata
	c.mu.Unlock()

	if h.Src == me || !wire.Matches(h.Metadata(), md) {
		return
	}
	pong := wire.MessageHeader{
		Src:         me,
		Dst:         h.Src,
		Protocol:    wire.ProtocolSystem,
		MessageCode: wire.SystemMsgPong,
	}
	pong.SetMetadata(md)
	_ = c.write(&wire.MessageBuffer{Header: pong})
	c.logControl(log.Out, log.OpPong, nil)
}

func pingFrame(src wire.ClientID, filter wire.ClientMetadata) *wire.MessageBuffer {
	h := wire.MessageHeader{
		Src:         src,
		Dst:         wire.BroadcastClientID,
		Protocol:    wire.ProtocolSystem,
		MessageCode: wire.SystemMsgPing,
	}
	h.SetMetadata(filter)
	return &wire.MessageBuffer{Header: h}
}
