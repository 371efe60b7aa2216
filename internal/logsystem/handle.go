package logsystem

import "sync"

// ServerInterface is the RPC-reachable identity of a log server or log
// router as seen by the coordinator: an address plus whatever transport the
// caller wired in. The concrete transport lives in internal/logsystem/transport;
// this package only needs a stable ID and a way to dial.
type ServerInterface struct {
	ID      string
	Address string
}

// ServerHandle is an observable cell holding the current ServerInterface for
// one log server slot. Its value changes when a server rejoins the cluster
// on a new address; every LogSet that references the same handle observes
// the update coherently. Present is false while the slot has never been
// filled (used during a brand-new recovery) or after the server has been
// permanently removed.
type ServerHandle struct {
	mu      sync.Mutex
	present bool
	iface   ServerInterface
	waiters []chan struct{}
}

// NewServerHandle returns a handle already populated with iface.
func NewServerHandle(iface ServerInterface) *ServerHandle {
	return &ServerHandle{present: true, iface: iface}
}

// NewEmptyServerHandle returns a handle with no server assigned yet.
func NewEmptyServerHandle() *ServerHandle {
	return &ServerHandle{}
}

// Get returns the current interface and whether one is present.
func (h *ServerHandle) Get() (ServerInterface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.iface, h.present
}

// Set installs a new interface and wakes every pending OnChange waiter.
func (h *ServerHandle) Set(iface ServerInterface) {
	h.mu.Lock()
	h.iface = iface
	h.present = true
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Clear marks the handle as having no live server, waking waiters so
// dependents can retry against its absence.
func (h *ServerHandle) Clear() {
	h.mu.Lock()
	h.present = false
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// OnChange returns a channel that closes the next time Set or Clear runs.
func (h *ServerHandle) OnChange() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	h.waiters = append(h.waiters, ch)
	return ch
}

// AsyncVar is a generic observable cell: Set replaces the value and wakes
// every OnChange waiter. The LogSystem itself keeps epochEndVersion, the
// stopped flag and recoveryComplete as plain fields and does not use it.
type AsyncVar[T any] struct {
	mu      sync.Mutex
	value   T
	waiters []chan struct{}
}

// NewAsyncVar returns a cell initialized to v.
func NewAsyncVar[T any](v T) *AsyncVar[T] {
	return &AsyncVar[T]{value: v}
}

// Get returns the current value.
func (a *AsyncVar[T]) Get() T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Set replaces the current value and wakes every OnChange waiter.
func (a *AsyncVar[T]) Set(v T) {
	a.mu.Lock()
	a.value = v
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// OnChange returns a channel that closes the next time Set runs.
func (a *AsyncVar[T]) OnChange() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.waiters = append(a.waiters, ch)
	return ch
}

// Trigger is a one-shot multi-waiter wake, used for logSystemConfigChanged.
// Fire is safe to call multiple times; only the first has any effect.
type Trigger struct {
	mu   sync.Mutex
	ch   chan struct{}
	once bool
}

// NewTrigger returns an armed Trigger.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{})}
}

// Fire wakes every current and future waiter exactly once. It does not
// rearm; only after Reset can a subsequent Fire wake a new generation of
// waiters.
func (t *Trigger) Fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.once {
		return
	}
	t.once = true
	close(t.ch)
}

// Reset rearms the trigger for a new round of waiters.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ch = make(chan struct{})
	t.once = false
}

// Wait returns the channel to select on.
func (t *Trigger) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch
}
