package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/enslite/enslite/internal/models"
)

// Memory is an in-memory Store. It backs the 'memory' database driver and
// doubles as the store fake in tests.
type Memory struct {
	mu          sync.RWMutex
	eventTypes  map[int64]models.EventType
	typesByName map[string]int64
	events       map[int64]models.EmergencyEvent
	servers      map[int64]models.Server
	telemetry    []models.TelemetryRecord
	nextTypeID   int64
	nextEventID  int64
	nextServerID int64
	nextTelemID  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		eventTypes:   make(map[int64]models.EventType),
		typesByName:  make(map[string]int64),
		events:       make(map[int64]models.EmergencyEvent),
		servers:      make(map[int64]models.Server),
		nextTypeID:   1,
		nextEventID:  1,
		nextServerID: 1,
		nextTelemID:  1,
	}
}

func (m *Memory) FindOrCreateEventType(_ context.Context, name string) (models.EventType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.typesByName[name]; ok {
		return m.eventTypes[id], nil
	}

	et := models.EventType{ID: m.nextTypeID, Name: name}
	m.nextTypeID++
	m.eventTypes[et.ID] = et
	m.typesByName[name] = et.ID
	return et, nil
}

func (m *Memory) CreateEventType(_ context.Context, et models.EventType) (models.EventType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.typesByName[et.Name]; ok {
		return m.eventTypes[id], nil
	}

	et.ID = m.nextTypeID
	m.nextTypeID++
	m.eventTypes[et.ID] = et
	m.typesByName[et.Name] = et.ID
	return et, nil
}

func (m *Memory) ListEventTypes(_ context.Context) ([]models.EventType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.EventType, 0, len(m.eventTypes))
	for _, et := range m.eventTypes {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, ev models.EmergencyEvent) (models.EmergencyEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	ev.ID = m.nextEventID
	m.nextEventID++
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if et, ok := m.eventTypes[ev.EventTypeID]; ok && ev.EventTypeName == "" {
		ev.EventTypeName = et.Name
	}
	m.events[ev.ID] = ev
	return ev, nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (models.EmergencyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return models.EmergencyEvent{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]models.EmergencyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectEvents(func(models.EmergencyEvent) bool { return true }), nil
}

func (m *Memory) ActiveEvents(_ context.Context) ([]models.EmergencyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectEvents(func(ev models.EmergencyEvent) bool { return ev.IsActive }), nil
}

// collectEvents returns matching events newest first. Caller holds the lock.
func (m *Memory) collectEvents(match func(models.EmergencyEvent) bool) []models.EmergencyEvent {
	out := make([]models.EmergencyEvent, 0, len(m.events))
	for _, ev := range m.events {
		if match(ev) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *Memory) SetEventActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	ev.IsActive = active
	ev.UpdatedAt = time.Now().UTC()
	m.events[id] = ev
	return nil
}

func (m *Memory) CreateServer(_ context.Context, srv models.Server) (models.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	srv.ID = m.nextServerID
	m.nextServerID++
	srv.CreatedAt = time.Now().UTC()
	m.servers[srv.ID] = srv
	return srv, nil
}

func (m *Memory) GetServer(_ context.Context, id int64) (models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srv, ok := m.servers[id]
	if !ok {
		return models.Server{}, ErrNotFound
	}
	return srv, nil
}

func (m *Memory) ListServers(_ context.Context) ([]models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Server, 0, len(m.servers))
	for _, srv := range m.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateServer(_ context.Context, srv models.Server) (models.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.servers[srv.ID]
	if !ok {
		return models.Server{}, ErrNotFound
	}
	srv.CreatedAt = existing.CreatedAt
	m.servers[srv.ID] = srv
	return srv, nil
}

func (m *Memory) DeleteServer(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[id]; !ok {
		return ErrNotFound
	}
	delete(m.servers, id)
	return nil
}

func (m *Memory) CreateTelemetry(_ context.Context, rec models.TelemetryRecord) (models.TelemetryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.RelatedEventID != nil {
		if _, ok := m.events[*rec.RelatedEventID]; !ok {
			return models.TelemetryRecord{}, ErrNotFound
		}
	}

	rec.ID = m.nextTelemID
	m.nextTelemID++
	m.telemetry = append(m.telemetry, rec)
	return rec, nil
}

func (m *Memory) ListTelemetry(_ context.Context, droneID string, limit int) ([]models.TelemetryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.TelemetryRecord, 0)
	for i := len(m.telemetry) - 1; i >= 0; i-- {
		rec := m.telemetry[i]
		if droneID != "" && rec.DroneID != droneID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) LatestTelemetry(_ context.Context) (map[string]models.TelemetryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]models.TelemetryRecord)
	for _, rec := range m.telemetry {
		prev, ok := latest[rec.DroneID]
		if !ok || rec.Timestamp.After(prev.Timestamp) {
			latest[rec.DroneID] = rec
		}
	}
	return latest, nil
}

func (m *Memory) Statistics(_ context.Context) (models.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.Statistics{
		BySeverity: map[string]int{
			models.SeverityLabel(models.SeverityLow):      0,
			models.SeverityLabel(models.SeverityMedium):   0,
			models.SeverityLabel(models.SeverityHigh):     0,
			models.SeverityLabel(models.SeverityCritical): 0,
		},
	}
	for _, ev := range m.events {
		stats.Total++
		if ev.IsActive {
			stats.Active++
		}
		stats.BySeverity[models.SeverityLabel(ev.Severity)]++
	}
	return stats, nil
}
