package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/shankarsingh077/Zeni/pkg/client"
	"github.com/shankarsingh077/Zeni/pkg/protocol"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives each
// accepted conn; it is invoked once per connection, so reconnect tests see it
// called multiple times. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readCommand reads one frame and decodes it from the server's point of view.
func readCommand(t *testing.T, conn *websocket.Conn) protocol.Command {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readCommand: %v", err)
	}
	cmd, err := protocol.DecodeCommand(data, typ == websocket.MessageBinary)
	if err != nil {
		t.Fatalf("readCommand decode: %v", err)
	}
	return cmd
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// fastBackoff keeps reconnect tests quick.
func fastBackoff() client.Backoff {
	return client.Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond}
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout: " + msg)
}

// connectedClient dials the given server and registers cleanup. The handler
// sees the session_start already consumed.
func connectedClient(t *testing.T, srv *httptest.Server, opts ...client.Option) *client.Client {
	t.Helper()
	c := client.New(wsURL(srv), protocol.DefaultSessionConfig(), opts...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
}

// ── Handshake ─────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionStart(t *testing.T) {
	t.Parallel()

	starts := make(chan protocol.SessionStart, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		cmd := readCommand(t, conn)
		start, ok := cmd.(protocol.SessionStart)
		if !ok {
			t.Errorf("first message = %T; want SessionStart", cmd)
			return
		}
		starts <- start
		<-conn.CloseRead(context.Background()).Done()
	})

	cfg := protocol.DefaultSessionConfig()
	c := connectedClient(t, srv)

	select {
	case start := <-starts:
		if start.SessionID == "" {
			t.Error("session_start carried empty session_id")
		}
		if start.SessionID != c.SessionID() {
			t.Errorf("SessionID() = %q; wire carried %q", c.SessionID(), start.SessionID)
		}
		if start.Config != cfg {
			t.Errorf("negotiated config = %+v; want %+v", start.Config, cfg)
		}
		if start.Timestamp == 0 {
			t.Error("session_start timestamp not stamped")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session_start")
	}

	if got := c.State(); got != client.Connected {
		t.Errorf("State() = %v; want Connected", got)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	c := client.New("ws://127.0.0.1:1", protocol.DefaultSessionConfig(),
		client.WithDialTimeout(500*time.Millisecond))
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect to dead address succeeded")
	}
	if got := c.State(); got != client.Failed {
		t.Errorf("State() after failed connect = %v; want Failed", got)
	}
}

func TestSend_BeforeConnect(t *testing.T) {
	t.Parallel()

	c := client.New("ws://example.invalid", protocol.DefaultSessionConfig())
	if err := c.Send(protocol.Interrupt{}); err != client.ErrNotConnected {
		t.Errorf("Send before connect = %v; want ErrNotConnected", err)
	}
	if _, err := c.SendAudio(make([]byte, 1920)); err != client.ErrNotConnected {
		t.Errorf("SendAudio before connect = %v; want ErrNotConnected", err)
	}
}

// ── Audio streaming ───────────────────────────────────────────────────────────

func TestSendAudio_RawBinaryAndSequencing(t *testing.T) {
	t.Parallel()

	frames := make(chan []byte, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			typ, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				frames <- data
			}
		}
	})

	c := connectedClient(t, srv)

	first := []byte{1, 2, 3, 4}
	second := []byte{5, 6, 7, 8}

	seq, err := c.SendAudio(first)
	if err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if seq != 0 {
		t.Errorf("first frame sequence = %d; want 0", seq)
	}
	seq, err = c.SendAudio(second)
	if err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if seq != 1 {
		t.Errorf("second frame sequence = %d; want 1", seq)
	}

	for i, want := range [][]byte{first, second} {
		select {
		case got := <-frames:
			if string(got) != string(want) {
				t.Errorf("frame %d payload = %v; want %v (must be raw PCM, no envelope)", i, got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

// ── Keepalive ─────────────────────────────────────────────────────────────────

func TestPing_AnsweredWithPong(t *testing.T) {
	t.Parallel()

	pongs := make(chan protocol.Pong, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		writeJSON(t, conn, map[string]any{"type": protocol.TypePing, "timestamp": 42})
		for {
			cmd := readCommand(t, conn)
			if pong, ok := cmd.(protocol.Pong); ok {
				pongs <- pong
				return
			}
		}
	})

	connectedClient(t, srv)

	select {
	case pong := <-pongs:
		if pong.Timestamp != 42 {
			t.Errorf("pong timestamp = %d; want 42 (echo of ping)", pong.Timestamp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for pong")
	}
}

func TestHeartbeat_EmittedPeriodically(t *testing.T) {
	t.Parallel()

	beats := make(chan protocol.Heartbeat, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			typ, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			cmd, err := protocol.DecodeCommand(data, typ == websocket.MessageBinary)
			if err != nil {
				continue
			}
			if hb, ok := cmd.(protocol.Heartbeat); ok {
				beats <- hb
			}
		}
	})

	connectedClient(t, srv, client.WithHeartbeatInterval(30*time.Millisecond))

	for i := 0; i < 2; i++ {
		select {
		case hb := <-beats:
			if hb.Timestamp == 0 {
				t.Error("heartbeat timestamp not stamped")
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for heartbeat %d", i)
		}
	}
}

// ── Event delivery and session state ──────────────────────────────────────────

func TestStateChange_UpdatesSessionStateAndPublishes(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		writeJSON(t, conn, map[string]any{
			"type":  protocol.TypeStateChange,
			"state": "listening",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv)
	events, cancel := c.Subscribe(protocol.KindState, 4)
	defer cancel()

	select {
	case ev := <-events:
		sc, ok := ev.(protocol.StateChange)
		if !ok {
			t.Fatalf("event = %T; want StateChange", ev)
		}
		if sc.State != protocol.StateListening {
			t.Errorf("state = %q; want listening", sc.State)
		}
		// SessionState is updated before the event is published.
		if got := c.SessionState(); got != protocol.StateListening {
			t.Errorf("SessionState() = %q; want listening", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for state_change")
	}
}

func TestMalformedMessage_DoesNotKillConnection(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, []byte(`{not json`))
		writeJSON(t, conn, map[string]any{
			"type": protocol.TypeTranscriptFinal,
			"text": "still alive",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv)
	events, cancel := c.Subscribe(protocol.KindTranscript, 4)
	defer cancel()

	select {
	case ev := <-events:
		tf, ok := ev.(protocol.TranscriptFinal)
		if !ok {
			t.Fatalf("event = %T; want TranscriptFinal", ev)
		}
		if tf.Text != "still alive" {
			t.Errorf("text = %q; want %q", tf.Text, "still alive")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connection died on malformed message; only the message should be lost")
	}
	if got := c.State(); got != client.Connected {
		t.Errorf("State() = %v; want Connected", got)
	}
}

// ── Reconnection ──────────────────────────────────────────────────────────────

func TestReconnect_AfterAbnormalClose(t *testing.T) {
	t.Parallel()

	var connCount atomic.Int32
	sessions := make(chan string, 2)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := connCount.Add(1)
		start := readCommand(t, conn).(protocol.SessionStart)
		sessions <- start.SessionID
		if n == 1 {
			// Simulate a server crash.
			conn.Close(websocket.StatusInternalError, "boom")
			return
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv, client.WithBackoff(fastBackoff()))

	var firstID, secondID string
	select {
	case firstID = <-sessions:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for first session")
	}
	select {
	case secondID = <-sessions:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for reconnect session")
	}

	if firstID == secondID {
		t.Error("reconnect reused the old session id; a new session must be negotiated")
	}

	waitFor(t, 3*time.Second, func() bool { return c.State() == client.Connected },
		"client never returned to Connected")
	if got := c.Attempts(); got != 0 {
		t.Errorf("Attempts() after successful reconnect = %d; want 0", got)
	}
	if c.SessionID() != secondID {
		t.Errorf("SessionID() = %q; want %q", c.SessionID(), secondID)
	}
}

func TestReconnect_AudioDroppedWhileDown(t *testing.T) {
	t.Parallel()

	var connCount atomic.Int32
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		connCount.Add(1)
		readCommand(t, conn) // session_start
		// Never recover: every connection dies immediately.
		conn.Close(websocket.StatusInternalError, "boom")
	})

	c := connectedClient(t, srv, client.WithBackoff(client.Backoff{
		Base: 200 * time.Millisecond,
		Max:  200 * time.Millisecond,
	}))

	waitFor(t, 3*time.Second, func() bool { return c.State() != client.Connected },
		"client never noticed the drop")

	if _, err := c.SendAudio([]byte{1, 2}); err != client.ErrNotConnected {
		t.Errorf("SendAudio while down = %v; want ErrNotConnected", err)
	}
}

func TestReconnect_GivesUpAtCeiling(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		conn.Close(websocket.StatusInternalError, "boom")
	})

	c := connectedClient(t, srv,
		client.WithBackoff(fastBackoff()),
		client.WithMaxReconnectAttempts(2),
		client.WithDialTimeout(time.Second))

	// Every reconnected session also dies, so attempts only stop growing
	// once the handshake itself starts failing. Force that by closing the
	// server after the first drop.
	waitFor(t, 3*time.Second, func() bool { return c.State() != client.Connected },
		"client never noticed the drop")
	srv.Close()

	waitFor(t, 5*time.Second, func() bool {
		return c.State() == client.Failed && c.Attempts() >= 2
	}, "client never settled in Failed at the attempt ceiling")
}

func TestConnect_AllowedAgainAfterServerClose(t *testing.T) {
	t.Parallel()

	var connCount atomic.Int32
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		n := connCount.Add(1)
		readCommand(t, conn) // session_start
		if n == 1 {
			// The server ends the session cleanly, as its idle timeout does.
			conn.Close(websocket.StatusNormalClosure, "idle timeout")
			return
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv, client.WithBackoff(fastBackoff()))
	firstID := c.SessionID()

	waitFor(t, 3*time.Second, func() bool { return c.State() == client.Disconnected },
		"client never observed the clean close")

	// A clean close is not terminal: the client must accept a new connect.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after clean server close: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return c.State() == client.Connected },
		"client never established the second session")

	if c.SessionID() == firstID {
		t.Error("second connect reused the old session id; a new session must be negotiated")
	}
	if n := connCount.Load(); n != 2 {
		t.Errorf("server saw %d connections; want 2 (one per explicit connect)", n)
	}
}

// ── Disconnect ────────────────────────────────────────────────────────────────

func TestDisconnect_SendsSessionEndAndClosesNormally(t *testing.T) {
	t.Parallel()

	got := make(chan protocol.SessionEnd, 1)
	closedNormally := make(chan bool, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn) // session_start
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			typ, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				closedNormally <- websocket.CloseStatus(err) == websocket.StatusNormalClosure
				return
			}
			cmd, err := protocol.DecodeCommand(data, typ == websocket.MessageBinary)
			if err != nil {
				continue
			}
			if end, ok := cmd.(protocol.SessionEnd); ok {
				got <- end
			}
		}
	})

	c := connectedClient(t, srv)
	id := c.SessionID()

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case end := <-got:
		if end.SessionID != id {
			t.Errorf("session_end id = %q; want %q", end.SessionID, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session_end")
	}
	select {
	case normal := <-closedNormally:
		if !normal {
			t.Error("socket was not closed with a normal close code")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for close")
	}

	if got := c.State(); got != client.Disconnected {
		t.Errorf("State() after Disconnect = %v; want Disconnected", got)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		readCommand(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if err := c.Send(protocol.Interrupt{}); err != client.ErrNotConnected {
		t.Errorf("Send after Disconnect = %v; want ErrNotConnected", err)
	}
}

func TestDisconnect_NoReconnectAfterExplicitClose(t *testing.T) {
	t.Parallel()

	var connCount atomic.Int32
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		connCount.Add(1)
		readCommand(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := connectedClient(t, srv, client.WithBackoff(fastBackoff()))
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := connCount.Load(); n != 1 {
		t.Errorf("server saw %d connections after explicit disconnect; want 1", n)
	}
}
