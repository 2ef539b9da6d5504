// Package proxy models the indirection records that hide downstream URLs
// behind node-local identifiers.
package proxy

import (
	"time"

	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// Resource maps a generated id and a sender/receiver pair to a real URL.
type Resource struct {
	ID       string
	Sender   ocpi.BasicRole
	Receiver ocpi.BasicRole
	// Module is the module the proxied URL belongs to. Pagination proxies
	// for a (sender, receiver, module) triple are replaced on every listing.
	Module   ocpi.ModuleID
	Resource string
	// AlternativeUID is an extra identifier minted alongside the record,
	// e.g. the uid placed in a rewritten command response_url.
	AlternativeUID string
	CreatedAt      time.Time
}

// Matches reports whether the record belongs to the given pair.
func (r Resource) Matches(sender, receiver ocpi.BasicRole) bool {
	return r.Sender.Equal(sender) && r.Receiver.Equal(receiver)
}
