package logsystem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

// outstandingPop is the coalescer's record for one (server, tag) pair: the
// highest upTo requested so far, and the knownCommitted that accompanies
// it. Exactly one popFromLog goroutine is ever running per key at a time;
// Pop and popFromLog mutate the fields under mu rather than replacing the
// map entry, so the map only ever needs Load/LoadOrStore/Delete.
type outstandingPop struct {
	mu             sync.Mutex
	upTo           Version
	knownCommitted Version
	lastSent       Version
}

// popCoalescer bounds log-server storage by lazily propagating per-tag pop
// points, guaranteeing at-most-one outstanding pop RPC per (server, tag).
type popCoalescer struct {
	entries *skipmap.OrderedMap[string, *outstandingPop]
}

func newPopCoalescer() *popCoalescer {
	return &popCoalescer{entries: skipmap.New[string, *outstandingPop]()}
}

func popKey(serverID string, tag Tag) string {
	return fmt.Sprintf("%s|%s", serverID, tag.String())
}

// Pop installs or upgrades the outstanding pop for (h, t) and, if this is
// the first request for that pair, spawns popFromLog to drain it.
func (c *popCoalescer) Pop(ctx context.Context, h *ServerHandle, serverID string, t Tag, upTo, knownCommitted Version, delay time.Duration, dialer ClientDialer) {
	key := popKey(serverID, t)

	entry, loaded := c.entries.LoadOrStore(key, &outstandingPop{
		upTo:           upTo,
		knownCommitted: knownCommitted,
		lastSent:       InvalidVersion,
	})
	if !loaded {
		go c.popFromLog(ctx, h, serverID, t, key, delay, dialer)
		return
	}

	// An entry already exists: upgrade it in place if upTo grew. No new
	// task is spawned; the running popFromLog observes the upgrade on its
	// next read.
	entry.mu.Lock()
	if upTo > entry.upTo {
		entry.upTo = upTo
		entry.knownCommitted = knownCommitted
	}
	entry.mu.Unlock()
}

// popFromLog repeatedly sends pop requests to h for tag t until upTo has
// been delivered, honoring delay between sends (configured per caller:
// env.Pop.LogServerDelay or env.Pop.LogRouterDelay). On any error other
// than cancellation it leaves the entry in place, which prevents further
// pops from targeting that server for this tag in this LogSystem.
func (c *popCoalescer) popFromLog(ctx context.Context, h *ServerHandle, serverID string, t Tag, key string, delay time.Duration, dialer ClientDialer) {
	for {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		entry, ok := c.entries.Load(key)
		if !ok {
			return
		}

		entry.mu.Lock()
		upTo, knownCommitted, lastSent := entry.upTo, entry.knownCommitted, entry.lastSent
		entry.mu.Unlock()

		if upTo <= lastSent {
			c.entries.Delete(key)
			return
		}

		iface, present := h.Get()
		if !present {
			slog.Warn("popFromLog: server handle absent, holding entry", "server", serverID, "tag", t)
			return
		}
		client, err := dialer.Dial(iface)
		if err != nil {
			slog.Warn("popFromLog: dial failed, holding entry", "server", serverID, "tag", t, "error", err)
			return
		}

		err = client.Pop(ctx, TLogPopRequest{UpTo: upTo, KnownCommitted: knownCommitted, Tag: t})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("popFromLog: rpc failed, holding entry", "server", serverID, "tag", t, "error", err)
			return
		}

		entry.mu.Lock()
		entry.lastSent = upTo
		entry.mu.Unlock()
	}
}
