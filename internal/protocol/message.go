// Package protocol defines the message envelope shared by both transport
// bindings and its codec. Payloads form a tagged union keyed by the envelope
// type; unknown types are rejected at the boundary.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"carshare/internal/apperr"
)

// Envelope types.
const (
	TypeRegisterClient      = "REGISTER_CLIENT"
	TypeRegisterClientOK    = "REGISTER_CLIENT_OK"
	TypeRegisterClientError = "REGISTER_CLIENT_ERROR"
	TypeQueryCars           = "QUERY_CARS"
	TypeQueryCarsResult     = "QUERY_CARS_RESULT"
	TypeStartRental         = "START_RENTAL"
	TypeStartRentalOK       = "START_RENTAL_OK"
	TypeStartRentalError    = "START_RENTAL_ERROR"
	TypeEndRental           = "END_RENTAL"
	TypeEndRentalOK         = "END_RENTAL_OK"
	TypeEndRentalError      = "END_RENTAL_ERROR"
	TypeCarConnect          = "CAR_CONNECT"
	TypeCarUnlock           = "CAR_UNLOCK"
	TypeCarLock             = "CAR_LOCK"
	TypeCarStateQuery       = "CAR_STATE_QUERY"
	TypeCarStateResponse    = "CAR_STATE_RESPONSE"
	TypeNotify              = "NOTIFY"
)

// SenderBackend is the ClientID stamped on backend-originated envelopes.
const SenderBackend = "backend"

// Envelope is the wire frame of the persistent-channel binding. A response's
// CorrelationID echoes the MessageID of its triggering request.
type Envelope struct {
	ClientID      string          `json:"clientId"`
	MessageID     string          `json:"messageId"`
	Type          string          `json:"type"`
	CorrelationID *string         `json:"correlationId"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type RegisterClientPayload struct {
	FullName             string   `json:"fullName"`
	Email                string   `json:"email"`
	Age                  int      `json:"age"`
	DrivingLicenseNumber string   `json:"drivingLicenseNumber"`
	PaymentToken         string   `json:"paymentToken"`
	PIN                  string   `json:"pin"`
	LicenseValidUntil    string   `json:"licenseValidUntil"`
	Location             Location `json:"location"`
}

type QueryCarsPayload struct {
	Location *Location `json:"location,omitempty"`
}

type StartRentalPayload struct {
	VIN string `json:"vin"`
}

type EndRentalPayload struct {
	VIN string `json:"vin"`
}

// CarConnectPayload authenticates a telematics connection for one VIN.
type CarConnectPayload struct {
	VIN    string `json:"vin"`
	APIKey string `json:"apiKey"`
}

// CarCommandPayload is carried by CAR_UNLOCK, CAR_LOCK and CAR_STATE_QUERY.
type CarCommandPayload struct {
	VIN string `json:"vin"`
}

type CarStateResponsePayload struct {
	VIN         string `json:"vin"`
	Locked      bool   `json:"locked"`
	DoorsClosed bool   `json:"doorsClosed"`
	LightsOff   bool   `json:"lightsOff"`
	EngineOff   bool   `json:"engineOff"`
}

type NotifyPayload struct {
	Message string `json:"message"`
}

// ErrorPayload is carried by every *_ERROR response.
type ErrorPayload struct {
	Reason string   `json:"reason"`
	Issues []string `json:"issues,omitempty"`
}

// Decode parses an envelope and its payload. The payload is decoded into the
// fixed shape of the envelope's type; an unknown type or a frame missing
// clientId/messageId/type is a validation error.
func Decode(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, apperr.Validationf("malformed envelope: %v", err)
	}
	if env.ClientID == "" || env.MessageID == "" || env.Type == "" {
		return Envelope{}, nil, apperr.Validationf("envelope requires clientId, messageId and type")
	}

	var payload any
	switch env.Type {
	case TypeRegisterClient:
		payload = &RegisterClientPayload{}
	case TypeQueryCars:
		payload = &QueryCarsPayload{}
	case TypeStartRental:
		payload = &StartRentalPayload{}
	case TypeEndRental:
		payload = &EndRentalPayload{}
	case TypeCarConnect:
		payload = &CarConnectPayload{}
	case TypeCarUnlock, TypeCarLock, TypeCarStateQuery:
		payload = &CarCommandPayload{}
	case TypeCarStateResponse:
		payload = &CarStateResponsePayload{}
	case TypeNotify:
		payload = &NotifyPayload{}
	case TypeRegisterClientError, TypeStartRentalError, TypeEndRentalError:
		payload = &ErrorPayload{}
	case TypeRegisterClientOK, TypeQueryCarsResult, TypeStartRentalOK, TypeEndRentalOK:
		// OK/result payloads have no fixed shape; decode into a generic map.
		body := map[string]any{}
		if err := decodeInto(env.Payload, &body); err != nil {
			return Envelope{}, nil, err
		}
		return env, body, nil
	default:
		return Envelope{}, nil, apperr.Validationf("unknown message type %q", env.Type)
	}

	if err := decodeInto(env.Payload, payload); err != nil {
		return Envelope{}, nil, err
	}
	return env, payload, nil
}

func decodeInto(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validationf("malformed payload: %v", err)
	}
	return nil
}

// BuildOption customizes a built envelope.
type BuildOption func(*Envelope)

// WithCorrelation links the envelope to the MessageID of the request it
// answers.
func WithCorrelation(messageID string) BuildOption {
	return func(e *Envelope) { e.CorrelationID = &messageID }
}

// WithMessageID overrides the generated message id.
func WithMessageID(id string) BuildOption {
	return func(e *Envelope) { e.MessageID = id }
}

// WithSender overrides the default backend sender id.
func WithSender(id string) BuildOption {
	return func(e *Envelope) { e.ClientID = id }
}

// Build assembles an envelope with a fresh message id and timestamp.
func Build(msgType string, payload any, opts ...BuildOption) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		ClientID:  SenderBackend,
		MessageID: uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   raw,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}
