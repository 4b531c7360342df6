// Package client implements the Zeni protocol client: a persistent WebSocket
// session with the inference server that multiplexes outbound binary audio
// with typed JSON control messages and demultiplexes inbound events into
// per-kind broadcast streams.
//
// A [Client] owns the connection/session state machine. It dials once on
// [Client.Connect], sends session_start with a freshly generated session id,
// and thereafter keeps the session alive: an application heartbeat stops
// proxies from idling the socket out, and any abnormal drop triggers
// automatic reconnection with exponential backoff. Each successful reconnect
// opens a brand-new session (new id, outbound sequence counter reset to 0);
// audio queued during an outage is dropped, never replayed.
//
// Exactly one goroutine reads the socket and one writes it. Commands are
// submitted to an ordered outbound queue so two callers can never interleave
// bytes on the wire; server pings are answered on a separate priority lane
// that bypasses queue backpressure.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shankarsingh077/Zeni/internal/observe"
	"github.com/shankarsingh077/Zeni/pkg/protocol"
)

// Errors returned by the command submission paths.
var (
	// ErrNotConnected is returned when a command is submitted while no
	// session is established. Audio frames hitting this error are simply
	// dropped by callers — stale audio must not resurrect after reconnect.
	ErrNotConnected = errors.New("client: not connected")

	// ErrQueueFull is returned when the outbound queue is saturated.
	ErrQueueFull = errors.New("client: outbound queue full")

	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("client: closed")
)

// ConnectionState is the transport-level phase of the client. It has exactly
// one writer (the connection manager goroutine) and many readers.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

// String returns the human-readable name of the state.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults for tunable client parameters.
const (
	defaultHeartbeatInterval = 10 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultQueueSize         = 256
	writeTimeout             = 5 * time.Second
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithHeartbeatInterval overrides the 10 s application heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithBackoff overrides the reconnect backoff schedule. Useful in tests to
// keep suite execution fast.
func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithDialTimeout overrides the 10 s dial + handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithQueueSize overrides the outbound command queue depth.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMaxReconnectAttempts caps consecutive automatic reconnect attempts.
// When the cap is exceeded the client gives up and settles in the Failed
// state. 0 (the default) means unlimited.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithMetrics attaches metric instruments. When nil (the default) nothing is
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// outbound is one entry in the write queue. flushed, when non-nil, is closed
// after the payload has been handed to the transport.
type outbound struct {
	cmd     protocol.Command
	flushed chan struct{}
}

// Client is the Zeni protocol client. Create one with [New]; it is safe for
// concurrent use.
type Client struct {
	url               string
	heartbeatInterval time.Duration
	dialTimeout       time.Duration
	queueSize         int
	maxReconnects     int
	backoff           Backoff
	metrics           *observe.Metrics

	bus      *bus
	sendCh   chan outbound
	directCh chan outbound // pings/pongs and session teardown bypass backpressure

	state        atomic.Int32  // ConnectionState
	sessionState atomic.Value  // protocol.SessionState
	sessionID    atomic.Value  // string
	seq          atomic.Uint64 // outbound audio sequence, reset per session
	attempts     atomic.Int64  // consecutive reconnect failures

	mu         sync.Mutex
	sessionCfg protocol.SessionConfig
	conn       *websocket.Conn
	closed     bool
	started    bool

	done    chan struct{}
	runDone chan struct{}
}

// New creates a Client for the given WebSocket URL and session
// configuration. The client does not touch the network until
// [Client.Connect].
func New(url string, cfg protocol.SessionConfig, opts ...Option) *Client {
	c := &Client{
		url:               url,
		sessionCfg:        cfg,
		heartbeatInterval: defaultHeartbeatInterval,
		dialTimeout:       defaultDialTimeout,
		queueSize:         defaultQueueSize,
		bus:               newBus(),
		done:              make(chan struct{}),
		runDone:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sendCh = make(chan outbound, c.queueSize)
	c.directCh = make(chan outbound, 8)
	c.sessionState.Store(protocol.StateIdle)
	c.sessionID.Store("")
	return c
}

// Connect dials the server, performs the session_start handshake, and starts
// the background read/write/heartbeat loops. On dial or handshake failure
// the client is left in the Failed state and may be connected again. The
// same holds after the server ends a session cleanly (an idle timeout, for
// example): the client settles in Disconnected and Connect opens a new
// session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client: already connected")
	}
	c.mu.Unlock()

	c.setState(Connecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		c.setState(Failed)
		return err
	}

	c.mu.Lock()
	c.started = true
	c.runDone = make(chan struct{})
	runDone := c.runDone
	c.mu.Unlock()

	c.setState(Connected)
	c.attempts.Store(0)

	go c.run(conn, runDone)
	return nil
}

// Disconnect ends the session cleanly: it sends session_end, closes the
// socket with a normal close code, and stops all background work. No
// automatic reconnection follows an explicit disconnect. Idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	started := c.started
	runDone := c.runDone
	c.mu.Unlock()

	// Best-effort session_end on the priority lane, then a normal close.
	if conn != nil {
		flushed := make(chan struct{})
		out := outbound{
			cmd:     protocol.SessionEnd{SessionID: c.SessionID()},
			flushed: flushed,
		}
		select {
		case c.directCh <- out:
			select {
			case <-flushed:
			case <-time.After(time.Second):
			}
		default:
		}
	}

	close(c.done)
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if started {
		<-runDone
	}
	c.bus.closeAll()
	c.setState(Disconnected)
	return nil
}

// Send submits a control command to the ordered outbound queue. It fails
// with ErrNotConnected while no session is established and ErrQueueFull when
// the queue is saturated; it never blocks.
func (c *Client) Send(cmd protocol.Command) error {
	if c.State() != Connected {
		return ErrNotConnected
	}
	select {
	case c.sendCh <- outbound{cmd: cmd}:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendAudio submits one microphone frame as a raw binary message and returns
// the sequence number assigned to it. Sequence numbers are strictly
// increasing within a session, start at 0, and are only consumed on
// successful submission — a dropped frame leaves no gap.
func (c *Client) SendAudio(pcm []byte) (uint64, error) {
	if c.State() != Connected {
		return 0, ErrNotConnected
	}
	select {
	case c.sendCh <- outbound{cmd: protocol.AudioData{PCM: pcm}}:
		seq := c.seq.Add(1) - 1
		if c.metrics != nil {
			c.metrics.AudioFramesSent.Add(context.Background(), 1)
		}
		return seq, nil
	default:
		return 0, ErrQueueFull
	}
}

// Subscribe registers a consumer for inbound events of the given kind. Each
// subscriber owns an independent queue of depth buf (a default is applied
// when buf <= 0) so one slow consumer cannot stall another. The returned
// cancel function closes the channel.
func (c *Client) Subscribe(kind protocol.Kind, buf int) (<-chan protocol.Event, func()) {
	return c.bus.subscribe(kind, buf)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// SessionState returns the latest server-reported conversational phase. It
// is updated synchronously with the socket read loop.
func (c *Client) SessionState() protocol.SessionState {
	return c.sessionState.Load().(protocol.SessionState)
}

// SessionID returns the id of the current session, or "" before the first
// connect.
func (c *Client) SessionID() string {
	return c.sessionID.Load().(string)
}

// Attempts returns the number of consecutive failed reconnect attempts.
// Integrators can watch this to enforce their own ceiling.
func (c *Client) Attempts() int {
	return int(c.attempts.Load())
}

// ── Session option changes ─────────────────────────────────────────────────────

// SetLanguage switches the session language and remembers the choice so a
// reconnected session negotiates it again.
func (c *Client) SetLanguage(lang protocol.Language) error {
	c.mu.Lock()
	c.sessionCfg.LanguagePreference = lang
	c.mu.Unlock()
	return c.Send(protocol.LanguageChange{Language: lang})
}

// SetVoice switches the synthesis voice.
func (c *Client) SetVoice(voice string) error {
	c.mu.Lock()
	c.sessionCfg.VoicePreference = voice
	c.mu.Unlock()
	return c.Send(protocol.VoiceChange{Voice: voice})
}

// SetPersonality switches the assistant personality mode.
func (c *Client) SetPersonality(p protocol.Personality) error {
	c.mu.Lock()
	c.sessionCfg.Personality = p
	c.mu.Unlock()
	return c.Send(protocol.PersonalityChange{Personality: p})
}

// SetTTSProvider switches the synthesis backend.
func (c *Client) SetTTSProvider(provider string) error {
	c.mu.Lock()
	c.sessionCfg.TTSProvider = provider
	c.mu.Unlock()
	return c.Send(protocol.TTSProviderChange{Provider: provider})
}

// SetTTSSpeed adjusts the speaking rate.
func (c *Client) SetTTSSpeed(speed float64) error {
	c.mu.Lock()
	c.sessionCfg.SpeakingRate = speed
	c.mu.Unlock()
	return c.Send(protocol.TTSSpeedChange{Speed: speed})
}

// ── Connection management ──────────────────────────────────────────────────────

// dial opens the socket and performs the session_start handshake: a fresh
// session id, the outbound sequence counter reset to 0, and the negotiated
// configuration sent as the first message on the wire.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	start := time.Now()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	cfg := c.sessionCfg
	c.mu.Unlock()

	id := uuid.NewString()
	c.sessionID.Store(id)
	c.seq.Store(0)

	payload, _, err := protocol.Encode(protocol.SessionStart{SessionID: id, Config: cfg})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode session_start")
		return nil, fmt.Errorf("client: session_start: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusInternalError, "session_start write failed")
		return nil, fmt.Errorf("client: session_start write: %w", err)
	}

	if c.metrics != nil {
		c.metrics.ConnectDuration.Record(context.Background(), time.Since(start).Seconds())
	}
	slog.Info("session started", "session_id", id, "url", c.url)
	return conn, nil
}

// run is the connection manager. It serves the given connection until it
// dies, then reconnects with exponential backoff until success, explicit
// disconnect, or the configured attempt ceiling. When run ends without an
// explicit Disconnect, the started latch is released so Connect may open a
// fresh session.
func (c *Client) run(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		err := c.serve(conn)

		if c.isClosed() {
			return
		}
		if err == nil {
			// Server closed the session cleanly; nothing to recover. The
			// latch is released before the state is visible so a caller that
			// observes Disconnected can connect again right away.
			slog.Info("server closed session")
			c.release()
			c.setState(Disconnected)
			return
		}

		slog.Warn("connection lost", "error", err)
		c.setState(Failed)

		conn = c.reconnect()
		if conn == nil {
			if !c.isClosed() {
				c.release()
			}
			return
		}
	}
}

// release clears the started latch at the end of a connection's lifetime so
// a later Connect is accepted.
func (c *Client) release() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

// reconnect retries the dial with backoff. It returns the new connection, or
// nil if the client was disconnected or the attempt ceiling was exceeded.
func (c *Client) reconnect() *websocket.Conn {
	for {
		attempt := int(c.attempts.Load())
		if c.maxReconnects > 0 && attempt >= c.maxReconnects {
			slog.Error("giving up after max reconnect attempts", "attempts", attempt)
			c.setState(Failed)
			return nil
		}

		delay := c.backoff.Delay(attempt)
		c.setState(Reconnecting)
		slog.Info("reconnecting", "attempt", attempt+1, "delay", delay)

		select {
		case <-c.done:
			c.setState(Disconnected)
			return nil
		case <-time.After(delay):
		}

		c.setState(Connecting)
		if c.metrics != nil {
			c.metrics.Reconnects.Add(context.Background(), 1)
		}

		dialCtx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		conn, err := c.dial(dialCtx)
		cancel()
		if err != nil {
			c.attempts.Add(1)
			slog.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			c.setState(Failed)
			continue
		}

		c.attempts.Store(0)
		c.setState(Connected)
		return conn
	}
}

// serve owns one connection's lifetime: it discards commands left over from
// the previous session, spawns the write and heartbeat loops, and runs the
// read loop until the connection dies. A nil return means a clean close.
func (c *Client) serve(conn *websocket.Conn) error {
	c.discardQueued()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()

	err := c.readLoop(ctx, conn)

	cancel()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	return err
}

// discardQueued empties the outbound queues. Audio captured before an outage
// must never be replayed into a new session.
func (c *Client) discardQueued() {
	dropped := 0
	for {
		select {
		case out := <-c.sendCh:
			if out.flushed != nil {
				close(out.flushed)
			}
			dropped++
		case out := <-c.directCh:
			if out.flushed != nil {
				close(out.flushed)
			}
			dropped++
		default:
			if dropped > 0 {
				slog.Debug("discarded stale outbound commands", "count", dropped)
			}
			return
		}
	}
}

// writeLoop is the single socket writer. The priority lane (pongs, session
// teardown) is always checked before the general queue.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		// Priority lane first.
		select {
		case out := <-c.directCh:
			c.write(ctx, conn, out)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case out := <-c.directCh:
			c.write(ctx, conn, out)
		case out := <-c.sendCh:
			c.write(ctx, conn, out)
		}
	}
}

// write encodes and transmits one command. Errors are logged only; the read
// loop is the authority on connection death.
func (c *Client) write(ctx context.Context, conn *websocket.Conn, out outbound) {
	if out.flushed != nil {
		defer close(out.flushed)
	}

	payload, binary, err := protocol.Encode(out.cmd)
	if err != nil {
		slog.Error("dropping unencodable command", "error", err)
		return
	}

	msgType := websocket.MessageText
	if binary {
		msgType = websocket.MessageBinary
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, msgType, payload); err != nil && ctx.Err() == nil {
		slog.Warn("socket write failed", "error", err)
	}
}

// heartbeatLoop sends the application keepalive while the connection is up.
// The transport's own ping/pong handles hard failure detection; this exists
// to stop intermediary proxies from idling out the socket.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(protocol.Heartbeat{}); err != nil {
				slog.Debug("heartbeat skipped", "error", err)
			}
		}
	}
}

// readLoop is the single socket reader and the sole writer of SessionState.
// It returns nil on a clean close and the transport error otherwise.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}

		ev, err := protocol.Decode(data, typ == websocket.MessageBinary)
		if err != nil {
			// Protocol errors cost one message, never the connection.
			slog.Warn("dropping malformed inbound message", "error", err)
			if c.metrics != nil {
				c.metrics.DecodeFailures.Add(context.Background(), 1)
			}
			continue
		}

		c.dispatch(ev)
	}
}

// dispatch applies an inbound event's side effects and publishes it on the
// broadcast bus.
func (c *Client) dispatch(ev protocol.Event) {
	if c.metrics != nil {
		c.metrics.EventsReceived.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", ev.Kind().String())))
	}

	switch e := ev.(type) {
	case protocol.Ping:
		// Answered immediately on the priority lane, bypassing queue
		// backpressure, so liveness never false-fails under load.
		select {
		case c.directCh <- outbound{cmd: protocol.Pong{Timestamp: e.Timestamp}}:
		default:
			slog.Warn("priority lane full, ping unanswered")
		}

	case protocol.StateChange:
		// Synchronous with the read loop: no coalescing, no dropping.
		c.sessionState.Store(e.State)

	case protocol.AudioChunk:
		if c.metrics != nil {
			c.metrics.AudioChunksReceived.Add(context.Background(), 1)
		}

	case protocol.Unknown:
		slog.Warn("ignoring unknown event type", "type", e.RawType)

	case protocol.ServerError:
		slog.Error("server reported error", "code", e.Code, "message", e.Message)
	}

	c.bus.publish(ev)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// setState records a connection state transition and maintains the active
// session gauge.
func (c *Client) setState(s ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	slog.Debug("connection state", "from", prev.String(), "to", s.String())
	if c.metrics == nil {
		return
	}
	if s == Connected {
		c.metrics.ActiveSessions.Add(context.Background(), 1)
	} else if prev == Connected {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}
