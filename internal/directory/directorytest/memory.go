// Package directorytest is an in-memory directory for state machine tests.
package directorytest

import (
	"context"
	"sync"

	"github.com/imrishuroy/go-orderflow-realtime/internal/apperr"
	"github.com/imrishuroy/go-orderflow-realtime/internal/directory"
)

type Memory struct {
	mu       sync.Mutex
	tables   map[int64]directory.Table
	menu     map[int64]directory.MenuItem
	staff    map[int64]directory.Staff
	stations map[int64]directory.Station

	// SetStatusErr, when set, is returned by SetTableStatus.
	SetStatusErr error
}

func New() *Memory {
	return &Memory{
		tables:   map[int64]directory.Table{},
		menu:     map[int64]directory.MenuItem{},
		staff:    map[int64]directory.Staff{},
		stations: map[int64]directory.Station{},
	}
}

func (m *Memory) AddTable(t directory.Table) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.ID] = t
	return m
}

func (m *Memory) AddMenuItem(i directory.MenuItem) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.menu[i.ID] = i
	return m
}

func (m *Memory) AddStaff(s directory.Staff) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[s.ID] = s
	return m
}

func (m *Memory) AddStation(s directory.Station) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stations[s.ID] = s
	return m
}

func (m *Memory) TableStatus(id int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[id].Status
}

func (m *Memory) Table(ctx context.Context, id int64) (*directory.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) SetTableStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStatusErr != nil {
		return m.SetStatusErr
	}
	t, ok := m.tables[id]
	if !ok {
		return apperr.NotFound("table %d not found", id)
	}
	t.Status = status
	m.tables[id] = t
	return nil
}

func (m *Memory) MenuItem(ctx context.Context, id int64) (*directory.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.menu[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (m *Memory) Staff(ctx context.Context, id int64) (*directory.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) Station(ctx context.Context, id int64) (*directory.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
