// Package ocpi holds the OCPI 2.2 vocabulary routed by the node: party
// identifiers, module and interface identifiers, request descriptors, the
// peer envelope and the response envelope.
package ocpi

import (
	"fmt"
	"strings"
)

// BasicRole identifies a party on the network by country code and party id.
// Comparison is case-insensitive.
type BasicRole struct {
	PartyID     string `json:"id"`
	CountryCode string `json:"country"`
}

// Normalize returns the role with both parts upper-cased and trimmed.
func (r BasicRole) Normalize() BasicRole {
	return BasicRole{
		PartyID:     strings.ToUpper(strings.TrimSpace(r.PartyID)),
		CountryCode: strings.ToUpper(strings.TrimSpace(r.CountryCode)),
	}
}

// Equal reports whether two roles name the same party.
func (r BasicRole) Equal(other BasicRole) bool {
	return strings.EqualFold(r.PartyID, other.PartyID) && strings.EqualFold(r.CountryCode, other.CountryCode)
}

// IsZero reports whether either part is missing.
func (r BasicRole) IsZero() bool {
	return strings.TrimSpace(r.PartyID) == "" || strings.TrimSpace(r.CountryCode) == ""
}

func (r BasicRole) String() string {
	return fmt.Sprintf("%s/%s", r.CountryCode, r.PartyID)
}

// Role is the business role a platform plays.
type Role string

const (
	RoleCPO   Role = "CPO"
	RoleEMSP  Role = "EMSP"
	RoleHUB   Role = "HUB"
	RoleNAP   Role = "NAP"
	RoleNSP   Role = "NSP"
	RoleOTHER Role = "OTHER"
	RoleSCSP  Role = "SCSP"
)

// Valid reports whether r is one of the OCPI 2.2 roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCPO, RoleEMSP, RoleHUB, RoleNAP, RoleNSP, RoleOTHER, RoleSCSP:
		return true
	}
	return false
}

// ConnectionStatus is the lifecycle state of a locally registered platform.
type ConnectionStatus string

const (
	StatusPlanned   ConnectionStatus = "PLANNED"
	StatusConnected ConnectionStatus = "CONNECTED"
	StatusOffline   ConnectionStatus = "OFFLINE"
	StatusSuspended ConnectionStatus = "SUSPENDED"
)

func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusConnected, StatusOffline, StatusSuspended:
		return true
	}
	return false
}

// BusinessDetails is opaque to routing; only the name is kept.
type BusinessDetails struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}
