// Package store persists emergency events, event types and drone
// telemetry. Two implementations exist: Postgres for deployments and an
// in-memory store for development mode and tests.
package store

import (
	"context"
	"errors"

	"github.com/enslite/enslite/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence boundary consumed by the ingest listeners,
// the broadcast hub and the HTTP API.
type Store interface {
	// FindOrCreateEventType atomically looks up an event type by its
	// unique name, creating it if absent. Under a concurrent race on the
	// same name exactly one row survives and both callers receive it.
	FindOrCreateEventType(ctx context.Context, name string) (models.EventType, error)
	CreateEventType(ctx context.Context, et models.EventType) (models.EventType, error)
	ListEventTypes(ctx context.Context) ([]models.EventType, error)

	CreateEvent(ctx context.Context, ev models.EmergencyEvent) (models.EmergencyEvent, error)
	GetEvent(ctx context.Context, id int64) (models.EmergencyEvent, error)
	ListEvents(ctx context.Context) ([]models.EmergencyEvent, error)
	// ActiveEvents returns every event with is_active=true, newest first.
	ActiveEvents(ctx context.Context) ([]models.EmergencyEvent, error)
	SetEventActive(ctx context.Context, id int64, active bool) error

	CreateServer(ctx context.Context, srv models.Server) (models.Server, error)
	GetServer(ctx context.Context, id int64) (models.Server, error)
	ListServers(ctx context.Context) ([]models.Server, error)
	UpdateServer(ctx context.Context, srv models.Server) (models.Server, error)
	DeleteServer(ctx context.Context, id int64) error

	CreateTelemetry(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error)
	ListTelemetry(ctx context.Context, droneID string, limit int) ([]models.TelemetryRecord, error)
	// LatestTelemetry returns the most recent record per drone.
	LatestTelemetry(ctx context.Context) (map[string]models.TelemetryRecord, error)

	Statistics(ctx context.Context) (models.Statistics, error)
}
