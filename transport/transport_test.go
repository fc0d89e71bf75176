package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evolveworks/aiekit/bus"
	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/module"
	"github.com/evolveworks/aiekit/registry"
)

// --- Fixtures ---

type gateway struct {
	reg *registry.MemoryRegistry
	bus *bus.MemoryBus
	lis *Listener
	srv *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	b := bus.NewMemoryBus(
		bus.Dependencies{Registry: reg},
		bus.Config{ResponseTimeout: 2 * time.Second},
	)
	lis, err := NewListener(Config{Registry: reg, Bus: b})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}
	srv := httptest.NewServer(lis)

	t.Cleanup(func() {
		srv.Close()
		lis.Close()
		b.Close()
		reg.Close()
	})
	return &gateway{reg: reg, bus: b, lis: lis, srv: srv}
}

func (g *gateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials and completes the announce handshake for moduleID.
func (g *gateway) join(t *testing.T, moduleID string, caps ...string) *websocket.Conn {
	t.Helper()
	conn := g.dial(t)

	tags := make([]interface{}, len(caps))
	for i, c := range caps {
		tags[i] = c
	}
	sendFrame(t, conn, envelope.New(moduleID, envelope.KindCapabilityAnnounce,
		envelope.WithPayload("name", moduleID),
		envelope.WithPayload("version", "1.0.0"),
		envelope.WithPayload("capabilities", tags),
	))

	waitFor(t, func() bool {
		rec, err := g.reg.Resolve(moduleID)
		return err == nil && rec.Status == registry.StatusReady
	})
	return conn
}

// attachLocal registers and attaches an in-process module.
func (g *gateway) attachLocal(t *testing.T, moduleID string, cap string, handler module.HandlerFunc) {
	t.Helper()
	caps := []registry.Capability{{Tag: cap}}
	if _, err := g.reg.Register(registry.Registration{ModuleID: moduleID, Name: moduleID, Capabilities: caps}); err != nil {
		t.Fatalf("register %s: %v", moduleID, err)
	}
	if err := g.reg.AnnounceReady(moduleID, caps); err != nil {
		t.Fatalf("announce %s: %v", moduleID, err)
	}
	if err := g.bus.Attach(moduleID, &module.SimpleModule{
		ModuleID:   moduleID,
		ModuleName: moduleID,
		Caps:       caps,
		Handler:    handler,
	}); err != nil {
		t.Fatalf("attach %s: %v", moduleID, err)
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, env *envelope.Envelope) {
	t.Helper()
	data, err := envelope.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *envelope.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := envelope.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func payloadCode(env *envelope.Envelope) string {
	code, _ := env.Payload["code"].(string)
	return code
}

// --- Unit Tests ---

func TestListenerConfigValidation(t *testing.T) {
	if _, err := NewListener(Config{}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("missing deps: got %v", err)
	}
}

func TestJoinAdmitsPeer(t *testing.T) {
	g := newGateway(t)
	g.join(t, "peer-1", "translate")

	rec, err := g.reg.Resolve("peer-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Status != registry.StatusReady {
		t.Errorf("status = %s, want ready", rec.Status)
	}
	if len(rec.Capabilities) != 1 || rec.Capabilities[0].Tag != "translate" {
		t.Errorf("capabilities = %+v", rec.Capabilities)
	}
	if peers := g.lis.Peers(); len(peers) != 1 || peers[0] != "peer-1" {
		t.Errorf("Peers = %v", peers)
	}
}

func TestDisconnectDeregistersPeer(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	conn.Close()

	waitFor(t, func() bool {
		_, err := g.reg.Resolve("peer-1")
		return errors.Is(err, errors.ErrCodeUnknownModule)
	})
	waitFor(t, func() bool { return len(g.lis.Peers()) == 0 })

	// Envelopes to the gone peer fail fast.
	err := g.bus.Submit(context.Background(),
		envelope.New("tester", envelope.KindCommand, envelope.WithReceiver("peer-1")))
	if !errors.Is(err, errors.ErrCodeUnreachableReceiver) {
		t.Errorf("submit to gone peer: got %v", err)
	}
}

func TestFirstFrameMustAnnounce(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t)

	sendFrame(t, conn, envelope.New("peer-1", envelope.KindQuery,
		envelope.WithCapability("translate")))

	rejection := readFrame(t, conn)
	if rejection.Kind != envelope.KindError {
		t.Fatalf("kind = %s, want error", rejection.Kind)
	}
	if payloadCode(rejection) != string(errors.ErrCodeMalformedEnvelope) {
		t.Errorf("code = %q", payloadCode(rejection))
	}

	// The connection is dropped after a failed handshake.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected closed connection after rejection")
	}
}

func TestMalformedFrameRejectedWithoutDisconnect(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	rejection := readFrame(t, conn)
	if rejection.Kind != envelope.KindError {
		t.Fatalf("kind = %s, want error", rejection.Kind)
	}
	if rejection.SenderID != GatewaySenderID {
		t.Errorf("sender = %q, want %q", rejection.SenderID, GatewaySenderID)
	}

	// Peer stays admitted.
	if _, err := g.reg.Resolve("peer-1"); err != nil {
		t.Errorf("peer deregistered after bad frame: %v", err)
	}
}

// --- Delivery Tests ---

func TestPeerReceivesDirectDelivery(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	sent := envelope.New("tester", envelope.KindCommand,
		envelope.WithReceiver("peer-1"),
		envelope.WithPayload("action", "reload"),
	)
	if err := g.bus.Submit(context.Background(), sent); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := readFrame(t, conn)
	if got.ID != sent.ID {
		t.Errorf("envelope ID = %q, want %q", got.ID, sent.ID)
	}
	if got.Payload["action"] != "reload" {
		t.Errorf("payload = %+v", got.Payload)
	}
}

func TestPeerToPeerCapabilityRouting(t *testing.T) {
	g := newGateway(t)
	sender := g.join(t, "peer-a", "draft")
	receiver := g.join(t, "peer-b", "review")

	sent := envelope.New("peer-a", envelope.KindCommand,
		envelope.WithCapability("review"),
		envelope.WithPayload("doc", "d-1"),
	)
	sendFrame(t, sender, sent)

	got := readFrame(t, receiver)
	if got.ID != sent.ID {
		t.Errorf("envelope ID = %q, want %q", got.ID, sent.ID)
	}
	if got.SenderID != "peer-a" {
		t.Errorf("sender = %q", got.SenderID)
	}
}

func TestPeerRequestRelayed(t *testing.T) {
	g := newGateway(t)
	g.attachLocal(t, "echo-svc", "echo", func(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
		return envelope.NewResponse(env, "echo-svc", map[string]interface{}{
			"echo": env.Payload["text"],
		}), nil
	})
	conn := g.join(t, "peer-1", "translate")

	query := envelope.New("peer-1", envelope.KindQuery,
		envelope.WithCapability("echo"),
		envelope.WithPayload("text", "hello"),
		envelope.Expecting(),
	)
	sendFrame(t, conn, query)

	resp := readFrame(t, conn)
	if resp.Kind != envelope.KindResponse {
		t.Fatalf("kind = %s, want response", resp.Kind)
	}
	if resp.ResponseTo != query.ID {
		t.Errorf("response_to = %q, want %q", resp.ResponseTo, query.ID)
	}
	if resp.Payload["echo"] != "hello" {
		t.Errorf("payload = %+v", resp.Payload)
	}
}

func TestPeerRequestRoutingFailureAnswered(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	query := envelope.New("peer-1", envelope.KindQuery,
		envelope.WithCapability("nonexistent"),
		envelope.Expecting(),
	)
	sendFrame(t, conn, query)

	resp := readFrame(t, conn)
	if resp.Kind != envelope.KindError {
		t.Fatalf("kind = %s, want error", resp.Kind)
	}
	if resp.ResponseTo != query.ID {
		t.Errorf("response_to = %q, want %q", resp.ResponseTo, query.ID)
	}
	if payloadCode(resp) != string(errors.ErrCodeNoCapableModule) {
		t.Errorf("code = %q", payloadCode(resp))
	}
}

func TestPeerAnswersLocalRequest(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	// The peer echoes requests back as response frames.
	go func() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := envelope.Unmarshal(data)
		if err != nil {
			return
		}
		resp := envelope.NewResponse(env, "peer-1", map[string]interface{}{"translated": "hola"})
		out, _ := envelope.Marshal(resp)
		conn.WriteMessage(websocket.TextMessage, out)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := g.bus.Request(ctx, envelope.New("tester", envelope.KindQuery,
		envelope.WithCapability("translate"),
		envelope.WithPayload("text", "hello"),
		envelope.Expecting(),
	))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Payload["translated"] != "hola" {
		t.Errorf("payload = %+v", resp.Payload)
	}
}

func TestFrameBudgetEnforced(t *testing.T) {
	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
	b := bus.NewMemoryBus(bus.Dependencies{Registry: reg}, bus.Config{})
	lis, err := NewListener(Config{
		Registry:    reg,
		Bus:         b,
		FrameLimit:  2,
		FrameWindow: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	srv := httptest.NewServer(lis)
	g := &gateway{reg: reg, bus: b, lis: lis, srv: srv}
	t.Cleanup(func() {
		srv.Close()
		lis.Close()
		b.Close()
		reg.Close()
	})

	conn := g.join(t, "chatty", "draft")

	// Unroutable frames: within budget they come back NO_CAPABLE_MODULE,
	// past it the budget rejects them before routing is attempted.
	frame := func() *envelope.Envelope {
		return envelope.New("chatty", envelope.KindCommand,
			envelope.WithCapability("void"))
	}
	sendFrame(t, conn, frame())
	sendFrame(t, conn, frame())
	over := frame()
	sendFrame(t, conn, over)

	for i := 0; i < 2; i++ {
		rej := readFrame(t, conn)
		if payloadCode(rej) != string(errors.ErrCodeNoCapableModule) {
			t.Fatalf("frame %d code = %q, want NO_CAPABLE_MODULE", i, payloadCode(rej))
		}
	}

	rejection := readFrame(t, conn)
	if rejection.Kind != envelope.KindError {
		t.Fatalf("kind = %s, want error", rejection.Kind)
	}
	if rejection.ResponseTo != over.ID {
		t.Errorf("response_to = %q, want %q", rejection.ResponseTo, over.ID)
	}
	if payloadCode(rejection) != string(errors.ErrCodeRateLimited) {
		t.Errorf("code = %q", payloadCode(rejection))
	}
}

// --- Shutdown Tests ---

func TestListenerCloseDisconnectsPeers(t *testing.T) {
	g := newGateway(t)
	conn := g.join(t, "peer-1", "translate")

	if err := g.lis.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// New connections are refused once closed.
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("expected dial to fail after Close")
	}
}
