package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enslite/enslite/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store over an initialized pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// FindOrCreateEventType upserts by unique name. The ON CONFLICT path
// makes the insert a no-op update so RETURNING yields the surviving row
// for winners and losers alike.
func (p *Postgres) FindOrCreateEventType(ctx context.Context, name string) (models.EventType, error) {
	var et models.EventType
	err := p.pool.QueryRow(ctx, `
		INSERT INTO event_types (name, description)
		VALUES ($1, '')
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, description`,
		name,
	).Scan(&et.ID, &et.Name, &et.Description)
	if err != nil {
		return models.EventType{}, fmt.Errorf("find or create event type: %w", err)
	}
	return et, nil
}

func (p *Postgres) CreateEventType(ctx context.Context, et models.EventType) (models.EventType, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO event_types (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id, name, description`,
		et.Name, et.Description,
	).Scan(&et.ID, &et.Name, &et.Description)
	if err != nil {
		return models.EventType{}, fmt.Errorf("create event type: %w", err)
	}
	return et, nil
}

func (p *Postgres) ListEventTypes(ctx context.Context) ([]models.EventType, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, description FROM event_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	defer rows.Close()

	var out []models.EventType
	for rows.Next() {
		var et models.EventType
		if err := rows.Scan(&et.ID, &et.Name, &et.Description); err != nil {
			return nil, fmt.Errorf("scan event type: %w", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateEvent(ctx context.Context, ev models.EmergencyEvent) (models.EmergencyEvent, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO emergency_events (title, description, event_type_id, location, severity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		ev.Title, ev.Description, ev.EventTypeID, ev.Location, ev.Severity, ev.IsActive,
	).Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return models.EmergencyEvent{}, fmt.Errorf("create event: %w", err)
	}
	return ev, nil
}

const eventColumns = `
	e.id, e.title, e.description, e.event_type_id, t.name, e.location,
	e.severity, e.is_active, e.created_at, e.updated_at`

func scanEvent(row pgx.Row) (models.EmergencyEvent, error) {
	var ev models.EmergencyEvent
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.EventTypeID, &ev.EventTypeName,
		&ev.Location, &ev.Severity, &ev.IsActive, &ev.CreatedAt, &ev.UpdatedAt,
	)
	return ev, err
}

func (p *Postgres) GetEvent(ctx context.Context, id int64) (models.EmergencyEvent, error) {
	ev, err := scanEvent(p.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM emergency_events e
		JOIN event_types t ON t.id = e.event_type_id
		WHERE e.id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EmergencyEvent{}, ErrNotFound
	}
	if err != nil {
		return models.EmergencyEvent{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (p *Postgres) ListEvents(ctx context.Context) ([]models.EmergencyEvent, error) {
	return p.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM emergency_events e
		JOIN event_types t ON t.id = e.event_type_id
		ORDER BY e.id DESC`)
}

func (p *Postgres) ActiveEvents(ctx context.Context) ([]models.EmergencyEvent, error) {
	return p.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM emergency_events e
		JOIN event_types t ON t.id = e.event_type_id
		WHERE e.is_active
		ORDER BY e.id DESC`)
}

func (p *Postgres) queryEvents(ctx context.Context, sql string, args ...any) ([]models.EmergencyEvent, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.EmergencyEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) SetEventActive(ctx context.Context, id int64, active bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE emergency_events SET is_active = $2, updated_at = now()
		WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("set event active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateServer(ctx context.Context, srv models.Server) (models.Server, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO servers (name, ip_address, port, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		srv.Name, srv.IPAddress, srv.Port, srv.IsActive,
	).Scan(&srv.ID, &srv.CreatedAt)
	if err != nil {
		return models.Server{}, fmt.Errorf("create server: %w", err)
	}
	return srv, nil
}

func (p *Postgres) GetServer(ctx context.Context, id int64) (models.Server, error) {
	var srv models.Server
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, ip_address, port, is_active, created_at
		FROM servers WHERE id = $1`,
		id,
	).Scan(&srv.ID, &srv.Name, &srv.IPAddress, &srv.Port, &srv.IsActive, &srv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	if err != nil {
		return models.Server{}, fmt.Errorf("get server: %w", err)
	}
	return srv, nil
}

func (p *Postgres) ListServers(ctx context.Context) ([]models.Server, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, ip_address, port, is_active, created_at
		FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		var srv models.Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.IPAddress, &srv.Port, &srv.IsActive, &srv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateServer(ctx context.Context, srv models.Server) (models.Server, error) {
	err := p.pool.QueryRow(ctx, `
		UPDATE servers SET name = $2, ip_address = $3, port = $4, is_active = $5
		WHERE id = $1
		RETURNING created_at`,
		srv.ID, srv.Name, srv.IPAddress, srv.Port, srv.IsActive,
	).Scan(&srv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	if err != nil {
		return models.Server{}, fmt.Errorf("update server: %w", err)
	}
	return srv, nil
}

func (p *Postgres) DeleteServer(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateTelemetry(ctx context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error) {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO drone_data (drone_id, latitude, longitude, altitude, speed, battery_level, status, timestamp, related_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.DroneID, rec.Latitude, rec.Longitude, rec.Altitude, rec.Speed,
		rec.BatteryLevel, rec.Status, rec.Timestamp, rec.RelatedEventID,
	).Scan(&rec.ID)
	if err != nil {
		return models.TelemetryRecord{}, fmt.Errorf("create telemetry: %w", err)
	}
	return rec, nil
}

const telemetryColumns = `
	id, drone_id, latitude, longitude, altitude, speed, battery_level,
	status, timestamp, related_event_id`

func scanTelemetry(row pgx.Row) (models.TelemetryRecord, error) {
	var rec models.TelemetryRecord
	err := row.Scan(
		&rec.ID, &rec.DroneID, &rec.Latitude, &rec.Longitude, &rec.Altitude,
		&rec.Speed, &rec.BatteryLevel, &rec.Status, &rec.Timestamp, &rec.RelatedEventID,
	)
	return rec, err
}

func (p *Postgres) ListTelemetry(ctx context.Context, droneID string, limit int) ([]models.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+telemetryColumns+`
		FROM drone_data
		WHERE ($1 = '' OR drone_id = $1)
		ORDER BY id DESC
		LIMIT $2`,
		droneID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		rec, err := scanTelemetry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestTelemetry(ctx context.Context) (map[string]models.TelemetryRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (drone_id) `+telemetryColumns+`
		FROM drone_data
		ORDER BY drone_id, timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("latest telemetry: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]models.TelemetryRecord)
	for rows.Next() {
		rec, err := scanTelemetry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		latest[rec.DroneID] = rec
	}
	return latest, rows.Err()
}

func (p *Postgres) Statistics(ctx context.Context) (models.Statistics, error) {
	stats := models.Statistics{
		BySeverity: map[string]int{
			models.SeverityLabel(models.SeverityLow):      0,
			models.SeverityLabel(models.SeverityMedium):   0,
			models.SeverityLabel(models.SeverityHigh):     0,
			models.SeverityLabel(models.SeverityCritical): 0,
		},
	}

	rows, err := p.pool.Query(ctx, `
		SELECT severity, is_active, count(*)
		FROM emergency_events
		GROUP BY severity, is_active`)
	if err != nil {
		return models.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity, count int
		var active bool
		if err := rows.Scan(&severity, &active, &count); err != nil {
			return models.Statistics{}, fmt.Errorf("scan statistics: %w", err)
		}
		stats.Total += count
		if active {
			stats.Active += count
		}
		stats.BySeverity[models.SeverityLabel(severity)] += count
	}
	return stats, rows.Err()
}
