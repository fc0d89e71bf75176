package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evolveworks/aiekit/bus"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/registry"
)

// Default gateway parameters.
const (
	// DefaultWriteTimeout for socket writes.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPingInterval for keepalive pings.
	DefaultPingInterval = 30 * time.Second

	// DefaultMaxMessageSize limits incoming frame size.
	DefaultMaxMessageSize = 1024 * 1024 // 1MB

	// DefaultSendBuffer sizes each peer's outbound queue.
	DefaultSendBuffer = 32

	// DefaultFrameWindow is the refill period for per-peer frame budgets.
	DefaultFrameWindow = time.Second

	// GatewaySenderID is the sender identity on frames the gateway itself
	// originates, such as decode rejections.
	GatewaySenderID = "gateway"
)

// Config configures the WebSocket gateway.
type Config struct {
	// Registry admits peers as modules. Required.
	Registry registry.Registry

	// Bus routes envelopes on behalf of peers. Required.
	Bus bus.Bus

	// WriteTimeout for socket writes. Default: DefaultWriteTimeout.
	WriteTimeout time.Duration

	// PingInterval for keepalive pings, 0 disables.
	// Default: DefaultPingInterval.
	PingInterval time.Duration

	// MaxMessageSize limits incoming frame size.
	// Default: DefaultMaxMessageSize.
	MaxMessageSize int64

	// SendBuffer sizes each peer's outbound queue.
	// Default: DefaultSendBuffer.
	SendBuffer int

	// FrameLimit bounds inbound frames per peer per FrameWindow. Frames
	// beyond the budget are answered with a RATE_LIMITED error frame and
	// never routed. Zero disables throttling.
	FrameLimit int

	// FrameWindow is the refill period for FrameLimit.
	// Default: DefaultFrameWindow when FrameLimit is set.
	FrameWindow time.Duration

	// Logger for connection events. Nil means silent.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Registry == nil {
		return errors.New(errors.ErrCodeInvalidInput, "gateway requires a registry")
	}
	if c.Bus == nil {
		return errors.New(errors.ErrCodeInvalidInput, "gateway requires a bus")
	}
	return nil
}

// newUpgrader creates the upgrader for accepting peer connections.
func newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // Override in production
	}
}
