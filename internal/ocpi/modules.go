package ocpi

// ModuleID is an OCPI module identifier. The value is the module's URL path
// segment.
type ModuleID string

const (
	ModuleCdrs             ModuleID = "cdrs"
	ModuleChargingProfiles ModuleID = "chargingprofiles"
	ModuleCommands         ModuleID = "commands"
	ModuleCredentials      ModuleID = "credentials"
	ModuleHubClientInfo    ModuleID = "hubclientinfo"
	ModuleLocations        ModuleID = "locations"
	ModuleSessions         ModuleID = "sessions"
	ModuleTariffs          ModuleID = "tariffs"
	ModuleTokens           ModuleID = "tokens"
	ModuleVersions         ModuleID = "versions"
)

var knownModules = map[ModuleID]bool{
	ModuleCdrs:             true,
	ModuleChargingProfiles: true,
	ModuleCommands:         true,
	ModuleCredentials:      true,
	ModuleHubClientInfo:    true,
	ModuleLocations:        true,
	ModuleSessions:         true,
	ModuleTariffs:          true,
	ModuleTokens:           true,
	ModuleVersions:         true,
}

func (m ModuleID) Valid() bool {
	return knownModules[m]
}

// InterfaceRole selects the sender or receiver interface of a module.
type InterfaceRole string

const (
	InterfaceSender   InterfaceRole = "SENDER"
	InterfaceReceiver InterfaceRole = "RECEIVER"
)

func (r InterfaceRole) Valid() bool {
	return r == InterfaceSender || r == InterfaceReceiver
}

// ResponseType tells the receiving side how to deserialize the reply data.
type ResponseType string

const (
	ResponseNothing            ResponseType = "NOTHING"
	ResponseToken              ResponseType = "TOKEN"
	ResponseTokenArray         ResponseType = "TOKEN_ARRAY"
	ResponseAuthorizationInfo  ResponseType = "AUTHORIZATION_INFO"
	ResponseTariff             ResponseType = "TARIFF"
	ResponseTariffArray        ResponseType = "TARIFF_ARRAY"
	ResponseSession            ResponseType = "SESSION"
	ResponseSessionArray       ResponseType = "SESSION_ARRAY"
	ResponseChargingPreference ResponseType = "CHARGING_PREFERENCE"
	ResponseCdr                ResponseType = "CDR"
	ResponseCdrArray           ResponseType = "CDR_ARRAY"
	ResponseCommandResponse    ResponseType = "COMMAND_RESPONSE"
)

// TokenType is the value of the "type" query parameter on token requests.
type TokenType string

const (
	TokenTypeAdHocUser TokenType = "AD_HOC_USER"
	TokenTypeAppUser   TokenType = "APP_USER"
	TokenTypeOther     TokenType = "OTHER"
	TokenTypeRFID      TokenType = "RFID"
)

func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeAdHocUser, TokenTypeAppUser, TokenTypeOther, TokenTypeRFID:
		return true
	}
	return false
}
