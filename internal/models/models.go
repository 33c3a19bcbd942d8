// Package models defines the persistent record types shared by the store,
// the ingest listeners and the HTTP API.
package models

import (
	"time"
)

// Severity levels for an emergency event.
const (
	SeverityLow      = 1
	SeverityMedium   = 2
	SeverityHigh     = 3
	SeverityCritical = 4
)

// SeverityLabel returns the display label for a severity level.
// Unknown values fall back to "Medium".
func SeverityLabel(severity int) string {
	switch severity {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Medium"
	}
}

// ClampSeverity forces a severity value into the valid 1..4 range.
// Out-of-range intake values are clamped rather than rejected so a
// reporting agent never loses an alert over a bad enum.
func ClampSeverity(severity int) int {
	if severity < SeverityLow {
		return SeverityLow
	}
	if severity > SeverityCritical {
		return SeverityCritical
	}
	return severity
}

// EventType categorizes emergency events. Names are unique; types are
// created on first use by that name.
type EventType struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// EmergencyEvent is one persisted emergency alert.
type EmergencyEvent struct {
	ID            int64     `db:"id" json:"id"`
	Title         string    `db:"title" json:"title"`
	Description   string    `db:"description" json:"description"`
	EventTypeID   int64     `db:"event_type_id" json:"event_type_id"`
	EventTypeName string    `db:"event_type_name" json:"event_type"`
	Location      string    `db:"location" json:"location"`
	Severity      int       `db:"severity" json:"severity"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TelemetryRecord is one persisted drone telemetry report. Records are
// immutable once stored.
type TelemetryRecord struct {
	ID             int64     `db:"id" json:"id"`
	DroneID        string    `db:"drone_id" json:"drone_id"`
	Latitude       float64   `db:"latitude" json:"latitude"`
	Longitude      float64   `db:"longitude" json:"longitude"`
	Altitude       float64   `db:"altitude" json:"altitude"`
	Speed          float64   `db:"speed" json:"speed"`
	BatteryLevel   float64   `db:"battery_level" json:"battery_level"`
	Status         string    `db:"status" json:"status"`
	Timestamp      time.Time `db:"timestamp" json:"timestamp"`
	RelatedEventID *int64    `db:"related_event_id" json:"related_event_id"`
}

// Server is one registered reporting endpoint shown on the dashboard's
// server list.
type Server struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IPAddress string    `db:"ip_address" json:"ip_address"`
	Port      int       `db:"port" json:"port"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Statistics summarizes the stored emergency events.
type Statistics struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	BySeverity map[string]int `json:"by_severity"`
}
