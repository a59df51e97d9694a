// Package playertest provides an in-memory player repository for service tests.
package playertest

import (
	"context"
	"sync"

	"github.com/frahmantamala/league-payments/internal"
	"github.com/frahmantamala/league-payments/internal/core/datamodel/player"
	playerService "github.com/frahmantamala/league-payments/internal/player"
)

var _ playerService.RepositoryAPI = (*Memory)(nil)

type Memory struct {
	mu        sync.Mutex
	players   map[int64]player.Player
	divisions map[int64]player.Division
	cities    map[int64]player.City
	failErr   error
	paidCalls int
}

func NewMemory() *Memory {
	return &Memory{
		players:   make(map[int64]player.Player),
		divisions: make(map[int64]player.Division),
		cities:    make(map[int64]player.City),
	}
}

func (m *Memory) AddPlayer(p player.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[p.ID] = p
}

func (m *Memory) AddDivision(d player.Division) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.divisions[d.ID] = d
}

func (m *Memory) AddCity(c player.City) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities[c.ID] = c
}

func (m *Memory) SetShouldFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// HasPaid reads the cached flag of a player.
func (m *Memory) HasPaid(playerID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.players[playerID].PaymentStatusHasPaid
}

// SetHasPaidCalls counts writes of the cached flag.
func (m *Memory) SetHasPaidCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paidCalls
}

func (m *Memory) GetPlayer(ctx context.Context, id int64) (*player.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	p, ok := m.players[id]
	if !ok {
		return nil, internal.ErrPlayerNotFound
	}
	return &p, nil
}

func (m *Memory) GetDivision(ctx context.Context, id int64) (*player.Division, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	d, ok := m.divisions[id]
	if !ok {
		return nil, internal.ErrDivisionNotFound
	}
	return &d, nil
}

func (m *Memory) GetCity(ctx context.Context, id int64) (*player.City, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	c, ok := m.cities[id]
	if !ok {
		return nil, internal.ErrCityNotFound
	}
	return &c, nil
}

func (m *Memory) SetHasPaid(ctx context.Context, playerID int64, hasPaid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	p, ok := m.players[playerID]
	if !ok {
		return internal.ErrPlayerNotFound
	}
	p.PaymentStatusHasPaid = hasPaid
	m.players[playerID] = p
	m.paidCalls++
	return nil
}
