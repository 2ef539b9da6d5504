// Package platform models the counterparties registered with this node.
package platform

import (
	"time"

	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// Auth holds the three OCPI credential tokens of a connection.
// TokenA is the registration secret, TokenB is issued by the platform and
// used for calls to it, TokenC is issued by this node and used for calls
// from it.
type Auth struct {
	TokenA string
	TokenB string
	TokenC string
}

// Platform is one locally registered OCPI connection.
type Platform struct {
	ID          string
	Status      ocpi.ConnectionStatus
	LastUpdated time.Time
	VersionsURL string
	Auth        Auth
}

// Connected reports whether the platform may send and receive requests.
func (p Platform) Connected() bool {
	return p.Status == ocpi.StatusConnected
}

// Role is one business role played by a platform. The (CountryCode,
// PartyID) pair is unique across the node.
type Role struct {
	ID              string
	PlatformID      string
	Role            ocpi.Role
	BusinessDetails ocpi.BusinessDetails
	PartyID         string
	CountryCode     string
}

// BasicRole returns the party identifier of the role.
func (r Role) BasicRole() ocpi.BasicRole {
	return ocpi.BasicRole{PartyID: r.PartyID, CountryCode: r.CountryCode}
}

// Endpoint is a module URL discovered for a platform. The (PlatformID,
// Identifier, Role) triple is unique.
type Endpoint struct {
	ID         string
	PlatformID string
	Identifier ocpi.ModuleID
	Role       ocpi.InterfaceRole
	URL        string
}
