// Package autopushws implements the client side of the autopush WebSocket
// relay protocol: hello, channel registration, notification delivery with
// acknowledgement, keep-alive pings, and reconnection with backoff.
package autopushws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultURL is the Mozilla autopush relay.
const DefaultURL = "wss://push.services.mozilla.com"

const (
	defaultRequestTimeout    = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultInitialPingDelay  = time.Second
)

// Conn is one relay connection. It owns the socket, the session identity,
// the operations waiting for a response, and every timer it schedules. At
// most one socket is live per Conn.
type Conn struct {
	url        string
	headers    http.Header
	httpClient *http.Client
	clock      Clock
	backoff    Backoff
	logger     *log.Logger

	requestTimeout    time.Duration
	heartbeatInterval time.Duration
	initialPingDelay  time.Duration

	onNotification func(Notification)
	onSession      func(Session)

	mu            sync.Mutex
	ws            *websocket.Conn
	gen           uint64 // bumped per socket; stale close events are ignored
	state         State
	dialing       *dialAttempt
	session       Session
	hello         *helloWait
	pending       map[string]chan registerReply
	intentional   bool
	attempts      int
	timerSeq      uint64 // bumped when timers are cancelled
	reconnectTmr  Timer
	heartbeatTmr  Timer
	pingTmr       Timer
	cancelRead    context.CancelFunc
	lastConnected time.Time
}

type dialAttempt struct {
	done chan struct{}
	err  error
}

type helloWait struct {
	ch         chan helloReply
	channelIDs []string
}

type helloReply struct {
	msg HelloMessage
	err error
}

type registerReply struct {
	msg RegisterMessage
	err error
}

// Option configures a Conn.
type Option func(*Conn)

// WithHeaders sets HTTP headers for the WebSocket upgrade request.
func WithHeaders(h http.Header) Option {
	return func(c *Conn) { c.headers = h }
}

// WithHTTPClient sets the HTTP client used for the upgrade request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Conn) { c.httpClient = hc }
}

// WithClock replaces the wall clock used for reconnect, heartbeat and ping timers.
func WithClock(clk Clock) Option {
	return func(c *Conn) { c.clock = clk }
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(c *Conn) { c.backoff = b }
}

// WithRequestTimeout sets how long dial, hello and register wait for the relay.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Conn) { c.requestTimeout = d }
}

// WithHeartbeatInterval sets the period of the connection state check.
// Zero disables it.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Conn) { c.heartbeatInterval = d }
}

// WithInitialPingDelay sets the delay of the ping sent after a successful
// hello. Zero disables it.
func WithInitialPingDelay(d time.Duration) Option {
	return func(c *Conn) { c.initialPingDelay = d }
}

// WithLogger sets the logger for protocol traffic. If not set, logging is disabled.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithNotificationHandler sets the function called for every notification,
// after it has been acknowledged. It runs on the read goroutine.
func WithNotificationHandler(fn func(Notification)) Option {
	return func(c *Conn) { c.onNotification = fn }
}

// WithSessionHandler sets the function called whenever the relay confirms
// a new session state (hello accepted, channel registered).
func WithSessionHandler(fn func(Session)) Option {
	return func(c *Conn) { c.onSession = fn }
}

// New creates a Conn for the relay at url. No connection is made until Connect.
func New(url string, opts ...Option) *Conn {
	c := &Conn{
		url:               url,
		clock:             SystemClock,
		backoff:           DefaultBackoff,
		requestTimeout:    defaultRequestTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		initialPingDelay:  defaultInitialPingDelay,
		pending:           make(map[string]chan registerReply),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- Connection management ---

// Connect opens the socket. If a socket is already open it returns
// immediately; if one is being opened it waits for that attempt instead of
// dialing again. A failed Connect does not schedule reconnects.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.IsOpen() {
		c.mu.Unlock()
		logf(c.logger, "autopush: already connected")
		return nil
	}
	if a := c.dialing; a != nil {
		c.mu.Unlock()
		logf(c.logger, "autopush: already connecting, waiting")
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := c.dialLocked(ctx)
	return err
}

// dialLocked opens a new socket. It must be called with c.mu held and
// returns with it released. The returned generation identifies the attempt.
func (c *Conn) dialLocked(ctx context.Context) (uint64, error) {
	c.gen++
	gen := c.gen
	a := &dialAttempt{done: make(chan struct{})}
	c.dialing = a
	c.intentional = false
	c.state = StateConnecting
	if c.reconnectTmr != nil {
		c.reconnectTmr.Stop()
		c.reconnectTmr = nil
	}
	c.mu.Unlock()

	logf(c.logger, "autopush: connecting to %s", c.url)
	dialCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	ws, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: c.headers,
	})
	cancel()

	c.mu.Lock()
	if c.dialing == a {
		c.dialing = nil
	}
	switch {
	case err != nil:
		a.err = fmt.Errorf("autopushws: dial: %w", err)
		if c.gen == gen {
			c.state = StateClosed
		}
	case c.gen != gen:
		// Disconnect ran while we were dialing.
		ws.CloseNow()
		a.err = ErrTransportClosed
	default:
		c.ws = ws
		c.state = StateOpen
		c.lastConnected = c.clock.Now()
		readCtx, cancelRead := context.WithCancel(context.Background())
		c.cancelRead = cancelRead
		c.scheduleHeartbeatLocked()
		go c.readLoop(readCtx, ws, gen)
	}
	c.mu.Unlock()
	close(a.done)

	if a.err != nil {
		logf(c.logger, "autopush: connect failed: %v", a.err)
	} else {
		logf(c.logger, "autopush: websocket opened: %s", c.url)
	}
	return gen, a.err
}

// Disconnect tears down the socket and cancels every pending operation and
// timer. When intentional is true the session is forgotten and the close
// does not trigger a reconnect; otherwise the close is treated like any
// transport loss and the session is restored on reconnect.
func (c *Conn) Disconnect(intentional bool) {
	c.mu.Lock()
	c.stopTimersLocked()
	c.failPendingLocked(ErrTransportClosed)
	if c.dialing != nil {
		c.gen++
		c.dialing = nil
	}
	if intentional {
		c.session = Session{}
	}

	ws := c.ws
	c.ws = nil
	if ws == nil {
		if intentional {
			c.state = StateNoSocket
		}
		c.mu.Unlock()
		return
	}
	cancelRead := c.cancelRead
	c.cancelRead = nil
	c.intentional = intentional
	c.state = StateClosing
	c.mu.Unlock()

	logf(c.logger, "autopush: disconnecting websocket (intentional=%v)", intentional)
	if err := ws.Close(websocket.StatusNormalClosure, ""); err != nil {
		logf(c.logger, "autopush: close: %v", err)
	}
	// The read context belongs to this socket; a redial installs its own.
	if cancelRead != nil {
		cancelRead()
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, gen uint64) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			c.handleClosed(gen, err)
			return
		}
		if typ != websocket.MessageText {
			logf(c.logger, "autopush: ignoring binary frame (%d bytes)", len(data))
			continue
		}
		msg, err := decodeMessage(data)
		if err != nil {
			logf(c.logger, "autopush: failed to parse message: %v", err)
			continue
		}
		logf(c.logger, "autopush: ← received %s: %s", strings.ToUpper(msg.messageType()), data)
		c.handleMessage(ctx, gen, msg)
	}
}

func (c *Conn) handleClosed(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	c.ws = nil
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	c.stopTimersLocked()
	c.failPendingLocked(ErrTransportClosed)
	c.state = StateClosed
	logf(c.logger, "autopush: websocket closed: code=%d err=%v", websocket.CloseStatus(err), err)

	if c.intentional {
		c.intentional = false
		c.state = StateNoSocket
		logf(c.logger, "autopush: intentional disconnect, skipping reconnection")
		return
	}
	c.scheduleReconnectLocked(c.session.clone())
}

func (c *Conn) scheduleReconnectLocked(saved Session) {
	next := c.attempts + 1
	delay, ok := c.backoff.Delay(next)
	if !ok {
		c.state = StateDisconnected
		logf(c.logger, "autopush: max reconnection attempts reached (%d)", c.backoff.MaxAttempts)
		return
	}
	c.attempts = next
	logf(c.logger, "autopush: reconnecting in %s (attempt %d/%d) uaid=%q channels=%v",
		delay, next, c.backoff.MaxAttempts, saved.UAID, saved.ChannelIDs)

	seq := c.timerSeq
	c.reconnectTmr = c.clock.AfterFunc(delay, func() { c.reconnect(seq, saved) })
}

// reconnect runs when the backoff timer fires. It dials and, if there was a
// session before the loss, restores it with a fresh hello.
func (c *Conn) reconnect(seq uint64, saved Session) {
	c.mu.Lock()
	if seq != c.timerSeq || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.reconnectTmr = nil

	gen, err := c.dialLocked(context.Background())
	if err != nil {
		c.mu.Lock()
		if c.gen == gen && c.state == StateClosed {
			c.scheduleReconnectLocked(saved)
		}
		c.mu.Unlock()
		return
	}

	if saved.IsZero() {
		return
	}
	logf(c.logger, "autopush: reconnected, restoring session with HELLO")
	ctx := context.Background()
	_, err = c.SendHello(ctx, saved.UAID, saved.ChannelIDs)
	if isIdentityExpired(err) {
		logf(c.logger, "autopush: uaid expired during reconnect, sending HELLO with empty identity")
		_, err = c.SendHello(ctx, "", nil)
	}
	if err != nil {
		logf(c.logger, "autopush: failed to restore session: %v", err)
	}
}

// --- Timers ---

func (c *Conn) stopTimersLocked() {
	c.timerSeq++
	for _, t := range []*Timer{&c.reconnectTmr, &c.heartbeatTmr, &c.pingTmr} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (c *Conn) scheduleHeartbeatLocked() {
	if c.heartbeatInterval <= 0 {
		return
	}
	seq := c.timerSeq
	c.heartbeatTmr = c.clock.AfterFunc(c.heartbeatInterval, func() {
		c.mu.Lock()
		if seq != c.timerSeq || c.ws == nil {
			c.mu.Unlock()
			return
		}
		state := c.state
		c.scheduleHeartbeatLocked()
		c.mu.Unlock()
		logf(c.logger, "autopush: websocket state check: %s (%s)", state, c.clock.Now().Format(time.RFC3339))
	})
}

func (c *Conn) schedulePingLocked() {
	if c.initialPingDelay <= 0 {
		return
	}
	if c.pingTmr != nil {
		c.pingTmr.Stop()
	}
	seq := c.timerSeq
	c.pingTmr = c.clock.AfterFunc(c.initialPingDelay, func() {
		c.mu.Lock()
		live := seq == c.timerSeq && c.ws != nil
		if live {
			c.pingTmr = nil
		}
		c.mu.Unlock()
		if live {
			logf(c.logger, "autopush: sending initial PING to activate connection")
			c.SendPing(context.Background())
		}
	})
}

func (c *Conn) failPendingLocked(err error) {
	if c.hello != nil {
		c.hello.ch <- helloReply{err: err}
		c.hello = nil
	}
	for key, ch := range c.pending {
		ch <- registerReply{err: err}
		delete(c.pending, key)
	}
}

// --- Accessors ---

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether a socket is established.
func (c *Conn) IsOpen() bool {
	return c.State().IsOpen()
}

// Session returns a copy of the current session.
func (c *Conn) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// ReconnectAttempts returns the number of consecutive reconnect attempts
// since the last accepted hello, and the configured maximum.
func (c *Conn) ReconnectAttempts() (current, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts, c.backoff.MaxAttempts
}

// LastConnectedAt returns when the current or most recent socket opened.
func (c *Conn) LastConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastConnected
}

// --- Sending ---

func (c *Conn) writeFrame(ctx context.Context, v any, label string) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		logf(c.logger, "autopush: cannot send %s: websocket not open", label)
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("autopushws: marshal %s: %w", label, err)
	}
	logf(c.logger, "autopush: → sending %s: %s", label, data)

	wctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	if err := ws.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("autopushws: write %s: %w", label, err)
	}
	return nil
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
