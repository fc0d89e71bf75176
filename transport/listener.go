package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/module"
	"github.com/evolveworks/aiekit/ratelimit"
	"github.com/evolveworks/aiekit/registry"
)

// Listener is an http.Handler upgrading connections to WebSocket and
// admitting each peer as a proxy module.
//
// The first frame from a peer must be a capability_announce envelope naming
// the module and its capabilities. The listener registers and announces the
// peer, then attaches a proxy whose Handle forwards delivered envelopes over
// the socket. Subsequent inbound frames are decoded and submitted to the bus
// on the peer's behalf; frames that fail decoding are answered with a
// MALFORMED_ENVELOPE error frame and never routed. Disconnection detaches
// and deregisters the peer.
type Listener struct {
	cfg      Config
	upgrader *websocket.Upgrader
	log      *logging.Logger
	limiter  ratelimit.Limiter

	mu     sync.Mutex
	peers  map[string]*peer
	closed bool
}

// NewListener creates a gateway listener.
func NewListener(cfg Config) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	} else if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("transport")
	}
	var limiter ratelimit.Limiter
	if cfg.FrameLimit > 0 {
		if cfg.FrameWindow <= 0 {
			cfg.FrameWindow = DefaultFrameWindow
		}
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{
			DefaultCapacity: cfg.FrameLimit,
			DefaultWindow:   cfg.FrameWindow,
		})
	}
	return &Listener{
		cfg:      cfg,
		upgrader: newUpgrader(),
		log:      log,
		limiter:  limiter,
		peers:    make(map[string]*peer),
	}, nil
}

// ServeHTTP upgrades the request and runs the peer until it disconnects.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		http.Error(w, "gateway closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(l.cfg.MaxMessageSize)

	p := &peer{
		listener: l,
		ws:       ws,
		send:     make(chan *envelope.Envelope, l.cfg.SendBuffer),
		done:     make(chan struct{}),
	}

	if err := p.admit(); err != nil {
		p.writeEnvelope(rejectionFrame(err))
		ws.Close()
		return
	}

	l.mu.Lock()
	l.peers[p.moduleID] = p
	l.mu.Unlock()

	l.log.ModuleJoined(p.moduleID, p.name, len(p.capabilities))
	p.run()

	l.mu.Lock()
	delete(l.peers, p.moduleID)
	l.mu.Unlock()
	l.evict(p)
}

// Peers returns the module IDs of currently connected peers.
func (l *Listener) Peers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.peers))
	for id := range l.peers {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every peer and stops admitting new ones.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	peers := make([]*peer, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	if l.limiter != nil {
		l.limiter.Close()
	}
	return nil
}

// evict removes a disconnected peer from the bus and registry.
func (l *Listener) evict(p *peer) {
	l.cfg.Bus.Detach(p.moduleID)
	l.cfg.Registry.Deregister(p.moduleID)
	if l.limiter != nil {
		l.limiter.Forget(p.moduleID)
	}
	l.log.ModuleLeft(p.moduleID)
}

// rejectionFrame builds the error envelope sent before dropping a peer that
// failed admission.
func rejectionFrame(err error) *envelope.Envelope {
	code := errors.Code(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	return envelope.New(GatewaySenderID, envelope.KindError,
		envelope.WithPayload("code", string(code)),
		envelope.WithPayload("message", err.Error()),
	)
}

// peer is one connected remote module.
type peer struct {
	listener *Listener
	ws       *websocket.Conn

	moduleID     string
	name         string
	capabilities []registry.Capability

	send chan *envelope.Envelope

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// admit performs the join handshake: the first frame must be a
// capability_announce envelope, which is registered and announced, and the
// peer attached to the bus as a proxy module.
func (p *peer) admit() error {
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeMalformedEnvelope, "no announce frame")
	}
	ann, err := envelope.Unmarshal(data)
	if err != nil {
		return err
	}
	if ann.Kind != envelope.KindCapabilityAnnounce {
		return errors.MalformedEnvelope("first frame must announce capabilities", errors.WithEnvelopeID(ann.ID))
	}

	reg := registry.Registration{
		ModuleID:     ann.SenderID,
		Name:         stringField(ann.Payload, "name"),
		Version:      stringField(ann.Payload, "version"),
		Capabilities: parseCapabilities(ann.Payload),
	}
	if reg.Name == "" {
		reg.Name = ann.SenderID
	}

	id, err := p.listener.cfg.Registry.Register(reg)
	if err != nil {
		return err
	}

	proxy := &module.SimpleModule{
		ModuleID:   id,
		ModuleName: reg.Name,
		Caps:       reg.Capabilities,
		Handler:    p.forward,
	}
	if err := p.listener.cfg.Bus.Attach(id, proxy); err != nil {
		p.listener.cfg.Registry.Deregister(id)
		return err
	}
	if err := p.listener.cfg.Registry.AnnounceReady(id, reg.Capabilities); err != nil {
		p.listener.cfg.Bus.Detach(id)
		p.listener.cfg.Registry.Deregister(id)
		return err
	}

	p.moduleID = id
	p.name = reg.Name
	p.capabilities = reg.Capabilities
	return nil
}

// forward is the proxy module's Handle: deliveries go out over the socket.
// Responses travel back as separate frames, so Handle itself returns none.
func (p *peer) forward(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	select {
	case p.send <- env:
		return nil, nil
	case <-p.done:
		return nil, errors.UnreachableReceiver(p.moduleID)
	}
}

// run pumps the connection until it drops.
func (p *peer) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.readLoop()
	}()
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()
	wg.Wait()
}

// readLoop decodes inbound frames and submits them on the peer's behalf.
func (p *peer) readLoop() {
	defer p.close()

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Unmarshal(data)
		if err != nil {
			// Reject the frame, keep the connection.
			p.writeEnvelope(rejectionFrame(err))
			continue
		}

		if lim := p.listener.limiter; lim != nil && !lim.Allow(p.moduleID) {
			p.rejectEnvelope(env, errors.New(errors.ErrCodeRateLimited,
				"peer "+p.moduleID+" exceeded its frame budget"))
			continue
		}

		// The peer cannot watch the pending table, so the gateway holds
		// its requests open and relays the resolution as a frame.
		if env.RequiresResponse && env.ResponseTo == "" {
			go p.relayRequest(env)
			continue
		}

		if err := p.listener.cfg.Bus.Submit(context.Background(), env); err != nil {
			p.rejectEnvelope(env, err)
		}
	}
}

// relayRequest runs one request on the peer's behalf and writes whatever
// resolves it, response or error, back over the socket.
func (p *peer) relayRequest(env *envelope.Envelope) {
	resp, err := p.listener.cfg.Bus.Request(context.Background(), env)
	if err != nil {
		p.rejectEnvelope(env, err)
		return
	}
	p.writeEnvelope(resp)
}

// rejectEnvelope answers a routing failure with an error frame tied to the
// failed envelope.
func (p *peer) rejectEnvelope(env *envelope.Envelope, err error) {
	if e, ok := errors.AsEcosystemError(err).(*errors.Error); ok {
		p.writeEnvelope(envelope.NewErrorResponse(env, GatewaySenderID, e))
		return
	}
	p.writeEnvelope(rejectionFrame(err))
}

// writeLoop drains the send queue to the socket with ping keepalive.
func (p *peer) writeLoop() {
	ticker := p.pingTicker()
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			if !p.closed {
				p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
			p.mu.Unlock()
		case env := <-p.send:
			p.writeEnvelope(env)
		}
	}
}

func (p *peer) pingTicker() *time.Ticker {
	if p.listener.cfg.PingInterval > 0 {
		return time.NewTicker(p.listener.cfg.PingInterval)
	}
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	return ticker
}

// writeEnvelope serializes and writes one frame.
func (p *peer) writeEnvelope(env *envelope.Envelope) {
	data, err := envelope.Marshal(env)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.ws.SetWriteDeadline(time.Now().Add(p.listener.cfg.WriteTimeout))
	p.ws.WriteMessage(websocket.TextMessage, data)
}

// close tears down the connection once.
func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	p.ws.Close()
}

// stringField extracts a string payload field, empty when absent.
func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// parseCapabilities reads the announced capability list from the payload.
// Entries are either plain tag strings or {tag, params} objects.
func parseCapabilities(payload map[string]interface{}) []registry.Capability {
	raw, ok := payload["capabilities"].([]interface{})
	if !ok {
		return nil
	}
	caps := make([]registry.Capability, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			caps = append(caps, registry.Capability{Tag: v})
		case map[string]interface{}:
			c := registry.Capability{Tag: stringField(v, "tag")}
			if params, ok := v["params"].(map[string]interface{}); ok {
				c.Params = make(map[string]string, len(params))
				for k, pv := range params {
					if s, ok := pv.(string); ok {
						c.Params[k] = s
					}
				}
			}
			if c.Tag != "" {
				caps = append(caps, c)
			}
		}
	}
	return caps
}
