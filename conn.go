package vmstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vmstore/docstore"
)

// State is the connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Event is a connection state transition delivered to observers.
type Event struct {
	State State
	// Err is the cause of a StateDisconnected transition forced by the
	// heartbeat watchdog (wrapping ErrLinkFailure). It is nil for a
	// requested Disconnect.
	Err error
}

// session is everything that lives exactly as long as one open link.
type session struct {
	client   docstore.Client
	ctx      context.Context // canceled when the link closes
	cancel   context.CancelFunc
	watchdog *heartbeat
	bg       sync.WaitGroup // background index provisioning
}

// Conn owns the link to the document store. One Conn is shared by every
// Store built on it; it is safe for concurrent use.
//
// Conn does not reconnect on its own. Observers registered with Subscribe
// see every transition and may call Connect or Disconnect from inside the
// callback.
type Conn struct {
	cfg      Config
	driver   docstore.Driver
	opts     options
	registry *Registry

	connectMu sync.Mutex // serializes Connect and Disconnect

	mu    sync.RWMutex
	state State
	sess  *session

	obsMu     sync.Mutex
	observers map[uint64]func(Event)
	nextObs   uint64
}

// NewConn creates a disconnected Conn. cfg is used as given; call
// Config.PopulateDefaults first when it was not loaded with LoadConfig.
func NewConn(cfg Config, driver docstore.Driver, optFns ...Option) *Conn {
	return &Conn{
		cfg:       cfg,
		driver:    driver,
		opts:      applyOptions(cfg, optFns),
		registry:  NewRegistry(),
		observers: make(map[uint64]func(Event)),
	}
}

// Config returns the configuration the Conn was created with.
func (c *Conn) Config() Config { return c.cfg }

// Registry returns the set of collections bound over this Conn.
func (c *Conn) Registry() *Registry { return c.registry }

// State returns the current state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Subscribe registers fn for state transitions. The returned func
// unregisters it.
//
// fn is called on the goroutine causing the transition: the caller of
// Connect or Disconnect, or the heartbeat watchdog for a forced close. The
// Conn holds none of its locks while fn runs, so fn may call Connect or
// Disconnect synchronously. The transition's caller is blocked until every
// observer returns.
func (c *Conn) Subscribe(fn func(Event)) (cancel func()) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			defer c.obsMu.Unlock()
			delete(c.observers, id)
		})
	}
}

func (c *Conn) notify(ev Event) {
	c.obsMu.Lock()
	fns := make([]func(Event), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Connect opens the link, authenticates when a username is configured and
// starts the heartbeat watchdog. Connecting an already connected Conn is a
// no-op. Open and authentication failures are returned as *ConnectionError.
func (c *Conn) Connect(ctx context.Context) error {
	connected, err := c.connect(ctx)
	if connected {
		c.notify(Event{State: StateConnected})
	}
	return err
}

// connect opens a session under connectMu and reports whether it did.
// The watchdog is running before the lock is released so a concurrent
// Disconnect always finds a watchdog it can halt and wait for.
func (c *Conn) connect(ctx context.Context) (bool, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return false, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	topology := c.cfg.Topology()
	client, err := c.open(ctx, topology)
	c.opts.logger.LogConnect(ctx, len(topology.Endpoints), topology.Clustered, err)
	if err != nil {
		c.setState(StateDisconnected)
		return false, err
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{client: client, ctx: sessCtx, cancel: cancel}
	if interval := c.cfg.HeartbeatInterval(); interval > 0 {
		sess.watchdog = newHeartbeat(interval, client.Ping, c.forceClose, c.opts.logger, c.opts.metricsCollector)
	}

	c.mu.Lock()
	c.sess = sess
	c.state = StateConnected
	c.mu.Unlock()

	if sess.watchdog != nil {
		sess.watchdog.start()
	}
	return true, nil
}

func (c *Conn) open(ctx context.Context, t docstore.Topology) (docstore.Client, error) {
	client, err := c.driver.Open(ctx, t)
	if err != nil {
		return nil, &ConnectionError{Op: "open", cause: err}
	}

	creds, ok := c.cfg.credentials()
	if !ok {
		return client, nil
	}
	if err := client.Authenticate(ctx, creds); err != nil {
		_ = client.Close(context.WithoutCancel(ctx))
		return nil, &ConnectionError{Op: "authenticate", cause: err}
	}
	return client, nil
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Disconnect stops the watchdog, waits for background index provisioning to
// wind down and closes the link. It is idempotent and safe to call on a
// Conn that never connected.
func (c *Conn) Disconnect(ctx context.Context) error {
	closed, err := c.disconnect(ctx)
	if closed {
		c.opts.logger.LogDisconnect(ctx, nil)
		c.notify(Event{State: StateDisconnected})
	}
	return err
}

// disconnect tears the session down under connectMu and reports whether
// there was one. Provisioning started before the detach runs to completion
// (bounded by the index timeout) on the still live session context.
func (c *Conn) disconnect(ctx context.Context) (bool, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	sess := c.detach(nil)
	if sess == nil {
		return false, nil
	}
	if sess.watchdog != nil {
		sess.watchdog.halt()
		sess.watchdog.wait()
	}
	sess.bg.Wait()
	sess.cancel()

	return true, sess.client.Close(ctx)
}

// forceClose is the watchdog's failure path. Only the watchdog of the
// current session can close it, so a late or repeated call is a no-op.
func (c *Conn) forceClose(h *heartbeat, cause error) {
	sess := c.detach(h)
	if sess == nil {
		return
	}
	sess.cancel()
	h.halt()

	ctx := context.Background()
	_ = sess.client.Close(ctx)
	c.opts.logger.LogDisconnect(ctx, cause)
	c.notify(Event{State: StateDisconnected, Err: cause})
}

// detach removes the current session and marks the Conn disconnected. With
// a non-nil owner the session is only detached if owner is its watchdog.
// The session context is left to the caller to cancel.
func (c *Conn) detach(owner *heartbeat) *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.sess
	if sess == nil || (owner != nil && sess.watchdog != owner) {
		return nil
	}
	c.sess = nil
	c.state = StateDisconnected
	return sess
}

// current returns the open session or ErrNotConnected.
func (c *Conn) current() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// Client returns the open link or ErrNotConnected.
func (c *Conn) Client() (docstore.Client, error) {
	sess, err := c.current()
	if err != nil {
		return nil, err
	}
	return sess.client, nil
}

// Ping probes the link once.
func (c *Conn) Ping(ctx context.Context) error {
	client, err := c.Client()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

// acquire reserves a throttle slot for one store operation.
func (c *Conn) acquire(ctx context.Context) (func(), error) {
	return c.opts.throttle.Acquire(ctx)
}
