package heartbeat

import (
	"time"

	"github.com/evolveworks/aiekit/envelope"
)

// Default liveness parameters.
const (
	// DefaultInterval between beacons.
	DefaultInterval = 10 * time.Second

	// DefaultMisses is the number of silent intervals before a module is
	// recommended for the error status.
	DefaultMisses = 3

	// DefaultOfflineAfter is the silence after which a module is taken
	// offline.
	DefaultOfflineAfter = time.Minute
)

// Beacon is the payload of one liveness announcement.
type Beacon struct {
	// ModuleID is the announcing module.
	ModuleID string `json:"module_id"`

	// Status is the module's self-reported status string.
	Status string `json:"status"`

	// At is when the beacon was generated.
	At time.Time `json:"at"`
}

// Envelope wraps the beacon in a fan-out status_update envelope addressed to
// the given capability tag, so observers subscribe by declaring the tag.
func (b *Beacon) Envelope(capability string) *envelope.Envelope {
	return envelope.New(b.ModuleID, envelope.KindStatusUpdate,
		envelope.WithCapability(capability),
		envelope.WithPayload("module_id", b.ModuleID),
		envelope.WithPayload("status", b.Status),
		envelope.WithPayload("at", b.At.Format(time.RFC3339Nano)),
	)
}
