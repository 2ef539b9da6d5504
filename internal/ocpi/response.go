package ocpi

import "time"

// OCPI status codes used by the node.
const (
	StatusSuccess                 = 1000
	StatusClientGenericError      = 2000
	StatusClientInvalidParameters = 2001
	StatusServerGenericError      = 3000
	StatusHubGenericError         = 4000
	StatusHubUnknownReceiver      = 4001
	StatusHubConnectionProblem    = 4003
)

// Response is the OCPI response envelope.
type Response struct {
	StatusCode    int         `json:"status_code"`
	StatusMessage string      `json:"status_message,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewSuccess wraps data in a 1000 response.
func NewSuccess(data interface{}) Response {
	return Response{
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

// NewError builds a response carrying no data.
func NewError(statusCode int, message string) Response {
	return Response{
		StatusCode:    statusCode,
		StatusMessage: message,
		Timestamp:     time.Now().UTC(),
	}
}

// ClientInfo describes one party connected to this node.
type ClientInfo struct {
	PartyID     string           `json:"party_id"`
	CountryCode string           `json:"country_code"`
	Role        Role             `json:"role"`
	Status      ConnectionStatus `json:"status"`
	LastUpdated time.Time        `json:"last_updated"`
}
