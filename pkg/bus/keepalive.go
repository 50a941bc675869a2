package bus

import (
	"errors"
	"time"

	"github.com/devbus/devbus-go/pkg/log"
	"github.com/devbus/devbus-go/pkg/wire"
)

var (
	errKeepAliveTimeout = errors.New("router stopped answering keep-alives")
	errRouterClosed     = errors.New("router closed the connection")
)

// keepAliveState tracks liveness of the router link. Guarded by
// Channel.mu.
type keepAliveState struct {
	lastSent time.Time
	missed   int
	lost     bool
}

func (k *keepAliveState) reset(now time.Time) {
	k.lastSent = now
	k.missed = 0
	k.lost = false
}

// markAlive records that the router is still there.
func (c *Channel) markAlive() {
	c.mu.Lock()
	c.keepAlive.missed = 0
	c.mu.Unlock()
}

// serviceKeepAlive sends a keep-alive when one is due. It returns an
// error once the router is considered gone.
func (c *Channel) serviceKeepAlive(now time.Time) error {
	c.mu.Lock()
	k := &c.keepAlive
	if k.lost {
		c.mu.Unlock()
		return errRouterClosed
	}
	interval := c.cfg.KeepAliveInterval
	if interval <= 0 || now.Sub(k.lastSent) < interval {
		c.mu.Unlock()
		return nil
	}
	if k.missed >= c.cfg.MaxMissedKeepAlives {
		c.mu.Unlock()
		return errKeepAliveTimeout
	}
	k.missed++
	k.lastSent = now
	me := c.clientID
	c.mu.Unlock()

	payload, _ := wire.ClientIDPayload{ClientID: me}.MarshalBinary()
	msg, err := wire.NewOutOfBand(wire.ClientMgmtKeepAlive, payload)
	if err != nil {
		return nil
	}
	if err := c.write(msg); err != nil {
		c.logger.Debug("keep-alive failed", "error", err)
		return nil
	}
	c.logControl(log.Out, log.OpKeepAlive, nil)
	return nil
}
