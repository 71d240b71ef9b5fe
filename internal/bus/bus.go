// Package bus provides event bus implementations for Fraudlens.
package bus

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// subjectReplacer strips NATS token separators and wildcards from tenant IDs.
var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

// makeSubject scopes a topic to a tenant: <tenant>.<topic>.
func makeSubject(tenantID, topic string) string {
	return subjectReplacer.Replace(tenantID) + "." + topic
}
