package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"cockpit/pkg/interfaces"
	"cockpit/pkg/types"
)

// Config holds the presence policy knobs. Values are policy, not protocol:
// override through configuration, not by editing call sites.
type Config struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the shipped presence policy: 30s heartbeat,
// 1s..30s exponential backoff, 8 reconnect attempts before giving up.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		MaxAttempts:       8,
	}
}

// Coordinator keeps the local participant's connection status consistent
// with actual reachability. State machine:
//
//	Offline -> (auth success) -> Online -> (hidden) -> Away -> (visible) -> Online
//	Online|Away -> (network loss) -> Offline -> (reconnect success) -> Online
//	Offline -> (max attempts exceeded) -> Offline, terminal until manual retry
type Coordinator struct {
	link   interfaces.PresenceLink
	config Config

	mu           sync.RWMutex
	status       types.ConnectionStatus
	terminal     bool
	reconnecting bool
	sessionID    string
	running      bool

	obsMu     sync.RWMutex
	observers map[int]func(interfaces.PresenceEvent)
	nextObs   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// sleep is the backoff wait; overridable in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a coordinator driving the given link.
func NewCoordinator(link interfaces.PresenceLink, config Config) *Coordinator {
	return &Coordinator{
		link:      link,
		config:    config,
		status:    types.ConnOffline,
		observers: make(map[int]func(interfaces.PresenceEvent)),
		sleep:     sleepCtx,
	}
}

// Start connects the link, sets presence Online, arms the server-side
// cleanup action, and begins the heartbeat. Called when local
// authentication becomes valid.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.link.Connect(c.ctx); err != nil {
		// Auth is valid but the network is not; drop into the reconnect
		// loop instead of failing startup.
		log.Printf("Presence connect failed, entering reconnect loop: %v", err)
		c.setStatus(types.ConnOffline)
		c.startReconnect()
	} else {
		// The cleanup action makes the server mark us Offline if it loses
		// this connection, with no further client code required.
		if err := c.link.ArmCleanup(c.ctx, CleanupScopeGlobal); err != nil {
			log.Printf("Failed to arm presence cleanup: %v", err)
		}
		c.setStatus(types.ConnOnline)
	}

	c.wg.Add(1)
	go c.heartbeatLoop()

	return nil
}

// Stop ends the heartbeat and closes the link.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	if err := c.link.Close(); err != nil {
		log.Printf("Presence link close error: %v", err)
	}
}

// Status returns the current connection status.
func (c *Coordinator) Status() types.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// HandleVisibility maps tab/app visibility to Away vs Online. Away is a
// soft state: session bindings stay armed.
func (c *Coordinator) HandleVisibility(hidden bool) {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()

	switch {
	case hidden && status == types.ConnOnline:
		c.setStatus(types.ConnAway)
	case !hidden && status == types.ConnAway:
		c.setStatus(types.ConnOnline)
	}
}

// HandleNetworkLoss transitions to Offline immediately and begins the
// reconnection loop.
func (c *Coordinator) HandleNetworkLoss() {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()
	if status == types.ConnOffline {
		return
	}

	c.setStatus(types.ConnOffline)
	c.startReconnect()
}

// RetryNow restarts reconnection after the loop gave up. The terminal
// state only clears through this explicit call.
func (c *Coordinator) RetryNow() error {
	c.mu.Lock()
	if !c.terminal {
		c.mu.Unlock()
		return ErrNotTerminal
	}
	c.terminal = false
	c.mu.Unlock()

	c.startReconnect()
	return nil
}

// EnterSession arms the session-scoped cleanup action: if the server loses
// this client while it is in the session, the session's participant record
// flips Offline server-side.
func (c *Coordinator) EnterSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	return c.link.ArmCleanup(ctx, CleanupScopeSession+sessionID)
}

// LeaveSession cancels the session-scoped cleanup action on explicit leave.
func (c *Coordinator) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	return c.link.DisarmCleanup(ctx, CleanupScopeSession+sessionID)
}

// RegisterObserver adds a presence event listener and returns its handle.
func (c *Coordinator) RegisterObserver(fn func(interfaces.PresenceEvent)) int {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.nextObs++
	c.observers[c.nextObs] = fn
	return c.nextObs
}

// RemoveObserver drops a previously registered listener.
func (c *Coordinator) RemoveObserver(id int) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	delete(c.observers, id)
}

// heartbeatLoop re-asserts the current status every HeartbeatInterval
// while connected. A failed heartbeat is treated as network loss.
func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.RLock()
			status := c.status
			c.mu.RUnlock()
			if status == types.ConnOffline {
				continue
			}
			if err := c.link.Heartbeat(c.ctx, status); err != nil {
				log.Printf("Heartbeat failed: %v", err)
				c.HandleNetworkLoss()
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// startReconnect launches the backoff loop unless one is already running
// or the coordinator is terminal.
func (c *Coordinator) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.terminal || !c.running {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries the link with delays of min(base*2^attempt, cap),
// resets the attempt counter on success, and surfaces a terminal event
// after MaxAttempts consecutive failures.
func (c *Coordinator) reconnectLoop() {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		c.emit(interfaces.PresenceEvent{
			Kind:    interfaces.PresenceReconnectAttempt,
			Status:  types.ConnOffline,
			Attempt: attempt + 1,
		})

		err := c.link.Connect(c.ctx)
		if err == nil {
			// Success resets the attempt counter (the loop exits, and any
			// later loss starts a fresh loop from attempt zero).
			if armErr := c.link.ArmCleanup(c.ctx, CleanupScopeGlobal); armErr != nil {
				log.Printf("Failed to re-arm presence cleanup: %v", armErr)
			}
			c.mu.RLock()
			sessionID := c.sessionID
			c.mu.RUnlock()
			if sessionID != "" {
				if armErr := c.link.ArmCleanup(c.ctx, CleanupScopeSession+sessionID); armErr != nil {
					log.Printf("Failed to re-arm session cleanup: %v", armErr)
				}
			}
			c.setStatus(types.ConnOnline)
			c.emit(interfaces.PresenceEvent{
				Kind:   interfaces.PresenceReconnectRestored,
				Status: types.ConnOnline,
			})
			log.Printf("Reconnected after %d attempt(s)", attempt+1)
			return
		}

		c.emit(interfaces.PresenceEvent{
			Kind:    interfaces.PresenceReconnectFailed,
			Status:  types.ConnOffline,
			Attempt: attempt + 1,
			Err:     err,
		})

		delay := backoffDelay(c.config.BackoffBase, c.config.BackoffCap, attempt)
		if sleepErr := c.sleep(c.ctx, delay); sleepErr != nil {
			return // context cancelled
		}
	}

	c.mu.Lock()
	c.terminal = true
	c.mu.Unlock()

	log.Printf("Reconnect exhausted after %d attempts", c.config.MaxAttempts)
	c.emit(interfaces.PresenceEvent{
		Kind:   interfaces.PresenceReconnectExhaust,
		Status: types.ConnOffline,
		Err:    interfaces.ErrReconnectExhausted,
	})
}

func (c *Coordinator) setStatus(status types.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.emit(interfaces.PresenceEvent{
		Kind:   interfaces.PresenceStatusChanged,
		Status: status,
	})
}

func (c *Coordinator) emit(event interfaces.PresenceEvent) {
	c.obsMu.RLock()
	listeners := make([]func(interfaces.PresenceEvent), 0, len(c.observers))
	for _, fn := range c.observers {
		listeners = append(listeners, fn)
	}
	c.obsMu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// backoffDelay computes min(base*2^attempt, cap).
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
