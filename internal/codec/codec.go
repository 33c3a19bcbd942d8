// Package codec parses and validates the wire payloads of both ingest
// transports and serializes the replies and broadcast frames.
//
// Stream framing caveat: each logical message is a single JSON object sent
// as one write and read as one complete recv up to the configured buffer
// size. The protocol carries no length prefix or delimiter, so a message
// split across reads or exceeding the buffer is not reassembled. Known
// limitation inherited from the wire contract.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/enslite/enslite/internal/models"
)

var validate = validator.New()

// Inbound stream message types.
const (
	TypeEmergencyAlert = "emergency_alert"
	TypeHeartbeat      = "heartbeat"
)

// Broadcast frame types delivered to dashboard subscribers.
const (
	TypeInitialEvents  = "initial_events"
	TypeEmergencyEvent = "emergency_event"
	TypeDroneData      = "drone_data"
)

var (
	// ErrMalformed marks payloads that are not valid JSON.
	ErrMalformed = errors.New("malformed payload")
	// ErrValidation marks payloads missing or mistyping a required field.
	ErrValidation = errors.New("invalid payload")
)

// AlertData contains the alert fields after defaults are applied.
type AlertData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	EventType   string `json:"event_type"`
	Location    string `json:"location"`
	Severity    int    `json:"severity"`
}

// InboundMessage is one decoded stream payload. Unknown Type values
// survive decoding; dispatch decides what to do with them.
type InboundMessage struct {
	Type string    `json:"type"`
	Data AlertData `json:"data"`
}

type rawInbound struct {
	Type string `json:"type"`
	Data struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		EventType   *string `json:"event_type"`
		Location    *string `json:"location"`
		Severity    *int    `json:"severity"`
	} `json:"data"`
}

// DecodeInbound decodes a stream payload and applies the intake defaults:
// missing title becomes "Untitled", missing severity becomes 2, missing
// description/location/event_type become empty or placeholder strings.
// Severity is clamped into 1..4.
func DecodeInbound(payload []byte) (InboundMessage, error) {
	var raw rawInbound
	if err := json.Unmarshal(payload, &raw); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := InboundMessage{
		Type: raw.Type,
		Data: AlertData{
			Title:     "Untitled",
			EventType: "Unknown",
			Severity:  models.SeverityMedium,
		},
	}
	if raw.Data.Title != nil {
		msg.Data.Title = *raw.Data.Title
	}
	if raw.Data.Description != nil {
		msg.Data.Description = *raw.Data.Description
	}
	if raw.Data.EventType != nil {
		msg.Data.EventType = *raw.Data.EventType
	}
	if raw.Data.Location != nil {
		msg.Data.Location = *raw.Data.Location
	}
	if raw.Data.Severity != nil {
		msg.Data.Severity = models.ClampSeverity(*raw.Data.Severity)
	}

	return msg, nil
}

// Fields are pointers so "required" distinguishes an absent field from a
// legitimate zero value (latitude 0 is on the equator, not missing).
type rawTelemetry struct {
	ID      *string  `json:"id" validate:"required,min=1"`
	Lat     *float64 `json:"lat" validate:"required"`
	Lon     *float64 `json:"lon" validate:"required"`
	Alt     *float64 `json:"alt" validate:"required"`
	Speed   *float64 `json:"speed" validate:"required"`
	Battery *float64 `json:"battery" validate:"required"`
	Status  *string  `json:"status" validate:"required,min=1"`
	EventID *int64   `json:"event_id"`
}

// DecodeTelemetry decodes and validates one datagram. Every field except
// event_id and timestamp is required; the record timestamp is the receipt
// time passed by the caller.
func DecodeTelemetry(payload []byte, receivedAt time.Time) (models.TelemetryRecord, error) {
	var raw rawTelemetry
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := validate.Struct(&raw); err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return models.TelemetryRecord{
		DroneID:        *raw.ID,
		Latitude:       *raw.Lat,
		Longitude:      *raw.Lon,
		Altitude:       *raw.Alt,
		Speed:          *raw.Speed,
		BatteryLevel:   *raw.Battery,
		Status:         *raw.Status,
		Timestamp:      receivedAt,
		RelatedEventID: raw.EventID,
	}, nil
}

// BroadcastEvent is the serialized form of an emergency event carried in
// broadcast frames. Severity is the display label, matching what the
// dashboards render.
type BroadcastEvent struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	EventType   string `json:"event_type"`
	Location    string `json:"location"`
	Severity    string `json:"severity"`
	CreatedAt   string `json:"created_at"`
}

// NewBroadcastEvent converts a stored event into its broadcast form.
func NewBroadcastEvent(ev models.EmergencyEvent) BroadcastEvent {
	return BroadcastEvent{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		EventType:   ev.EventTypeName,
		Location:    ev.Location,
		Severity:    models.SeverityLabel(ev.Severity),
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
}

// EncodeHandshake builds the server hello sent right after accept.
func EncodeHandshake(sessionID string) []byte {
	return mustMarshal(map[string]any{
		"status":     "connected",
		"session_id": sessionID,
	})
}

// EncodeSuccess builds the ack for a created emergency event.
func EncodeSuccess(eventID int64) []byte {
	return mustMarshal(map[string]any{
		"status":   "success",
		"message":  "Alert created successfully",
		"event_id": eventID,
	})
}

// EncodeOK builds the heartbeat reply.
func EncodeOK() []byte {
	return mustMarshal(map[string]any{
		"status":  "ok",
		"message": "Connection active",
	})
}

// EncodeError builds an error reply for the stream connection.
func EncodeError(message string) []byte {
	return mustMarshal(map[string]any{
		"status":  "error",
		"message": message,
	})
}

// EncodeInitialEvents builds the snapshot frame delivered on subscribe.
func EncodeInitialEvents(events []models.EmergencyEvent) []byte {
	out := make([]BroadcastEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, NewBroadcastEvent(ev))
	}
	return mustMarshal(map[string]any{
		"type":   TypeInitialEvents,
		"events": out,
	})
}

// EncodeEmergencyEvent builds the live frame for a newly created event.
func EncodeEmergencyEvent(ev models.EmergencyEvent) []byte {
	return mustMarshal(map[string]any{
		"type":  TypeEmergencyEvent,
		"event": NewBroadcastEvent(ev),
	})
}

// EncodeDroneData builds the live frame for telemetry linked to an event.
func EncodeDroneData(rec models.TelemetryRecord) []byte {
	return mustMarshal(map[string]any{
		"type": TypeDroneData,
		"data": rec,
	})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All encode inputs are fixed shapes built in this package.
		panic(fmt.Sprintf("codec: marshal failed: %v", err))
	}
	return data
}
