package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"evcharge/internal/domain"
)

// Implementaciones en memoria de los almacenes. Sirven para STORE_DRIVER=memory
// y para tests; cada operación es atómica respecto de las demás.

type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.Account
	byEmail map[string]string
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    make(map[string]domain.Account),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryAccountRepository) Create(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.Email = domain.NormalizeEmail(account.Email)
	if _, taken := m.byEmail[account.Email]; taken {
		return domain.ErrEmailTaken
	}
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return nil
}

func (m *MemoryAccountRepository) GetByID(_ context.Context, id string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return a, nil
}

func (m *MemoryAccountRepository) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	m.mu.RLock()
	id, ok := m.byEmail[domain.NormalizeEmail(email)]
	m.mu.RUnlock()
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryAccountRepository) UpdateEmail(_ context.Context, id, email string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	email = domain.NormalizeEmail(email)
	if owner, taken := m.byEmail[email]; taken && owner != id {
		return domain.ErrEmailTaken
	}
	delete(m.byEmail, a.Email)
	a.Email = email
	a.UpdatedAt = updatedAt
	m.byID[id] = a
	m.byEmail[email] = id
	return nil
}

func (m *MemoryAccountRepository) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	return m.mutate(id, func(a *domain.Account) {
		a.PasswordHash = passwordHash
		a.UpdatedAt = updatedAt
	})
}

func (m *MemoryAccountRepository) UpdateRole(_ context.Context, id string, role domain.Role, updatedAt time.Time) error {
	return m.mutate(id, func(a *domain.Account) {
		a.Role = role
		a.UpdatedAt = updatedAt
	})
}

func (m *MemoryAccountRepository) mutate(id string, fn func(*domain.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	fn(&a)
	m.byID[id] = a
	return nil
}

type MemorySessionRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.Session
	byToken map[string]string
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		byID:    make(map[string]domain.Session),
		byToken: make(map[string]string),
	}
}

func (m *MemorySessionRepository) Create(_ context.Context, session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[session.ID] = session
	m.byToken[session.Token] = session.ID
	return nil
}

func (m *MemorySessionRepository) GetByID(_ context.Context, id string) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionRepository) GetByToken(ctx context.Context, token string) (domain.Session, error) {
	m.mu.RLock()
	id, ok := m.byToken[token]
	m.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemorySessionRepository) Deactivate(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s := m.byID[id]
	s.Active = false
	s.UpdatedAt = time.Now().UTC()
	m.byID[id] = s
	return nil
}

func (m *MemorySessionRepository) SetChargerInUse(_ context.Context, id string, stationID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.ChargerInUse = copyString(stationID)
	s.UpdatedAt = time.Now().UTC()
	m.byID[id] = s
	return nil
}

type MemoryStationRepository struct {
	mu       sync.Mutex
	stations map[string]domain.Station
	holders  map[string]string
}

func NewMemoryStationRepository() *MemoryStationRepository {
	return &MemoryStationRepository{
		stations: make(map[string]domain.Station),
		holders:  make(map[string]string),
	}
}

func (m *MemoryStationRepository) Create(_ context.Context, s domain.Station) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.BookedBy != nil {
		if _, busy := m.holders[*s.BookedBy]; busy {
			return ErrHolderBusy
		}
		m.holders[*s.BookedBy] = s.ID
	}
	m.stations[s.ID] = cloneStation(s)
	return nil
}

func (m *MemoryStationRepository) GetByID(_ context.Context, id string) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	return cloneStation(s), nil
}

func (m *MemoryStationRepository) GetByHolder(_ context.Context, accountID string) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.holders[accountID]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	return cloneStation(m.stations[id]), nil
}

func (m *MemoryStationRepository) List(_ context.Context, filter domain.StationFilter) ([]domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type hit struct {
		station  domain.Station
		distance float64
	}
	var hits []hit
	for _, s := range m.stations {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		var distance float64
		switch area := filter.Area.(type) {
		case domain.Radius:
			distance = haversineMeters(area.Center, s.Location)
			if distance > area.Meters {
				continue
			}
		case domain.Box:
			if s.Location.Lng < area.Min.Lng || s.Location.Lng > area.Max.Lng ||
				s.Location.Lat < area.Min.Lat || s.Location.Lat > area.Max.Lat {
				continue
			}
		}
		hits = append(hits, hit{station: cloneStation(s), distance: distance})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].station.CreatedAt.Before(hits[j].station.CreatedAt)
	})
	out := make([]domain.Station, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.station)
	}
	return out, nil
}

func (m *MemoryStationRepository) Update(_ context.Context, s domain.Station, status *domain.StationStatus) (domain.Station, error) {
	if err := checkAdminStatus(status); err != nil {
		return domain.Station{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.stations[s.ID]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	current.Name = s.Name
	current.Location = s.Location
	current.Address = s.Address
	current.ConnectorType = s.ConnectorType
	current.PowerOutput = s.PowerOutput
	current.PricePerKWh = s.PricePerKWh
	current.OperatingHours = s.OperatingHours
	current.Amenities = append([]string{}, s.Amenities...)
	if status != nil {
		if current.BookedBy != nil {
			delete(m.holders, *current.BookedBy)
		}
		current.Status = *status
		current.BookedBy = nil
	}
	current.UpdatedAt = time.Now().UTC()
	m.stations[s.ID] = current
	return cloneStation(current), nil
}

func (m *MemoryStationRepository) Delete(_ context.Context, id string) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if s.BookedBy != nil {
		delete(m.holders, *s.BookedBy)
	}
	delete(m.stations, id)
	return s, nil
}

func (m *MemoryStationRepository) Book(_ context.Context, id, accountID string) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if s.Status != domain.StatusAvailable {
		return domain.Station{}, domain.ErrNotAvailable
	}
	if _, busy := m.holders[accountID]; busy {
		return domain.Station{}, ErrHolderBusy
	}
	holder := accountID
	s.Status = domain.StatusInUse
	s.BookedBy = &holder
	s.UpdatedAt = time.Now().UTC()
	m.stations[id] = s
	m.holders[accountID] = id
	return cloneStation(s), nil
}

func (m *MemoryStationRepository) Release(_ context.Context, id, accountID string) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if !s.HeldBy(accountID) {
		return domain.Station{}, domain.ErrNotBookedByYou
	}
	s.Status = domain.StatusAvailable
	s.BookedBy = nil
	s.UpdatedAt = time.Now().UTC()
	m.stations[id] = s
	delete(m.holders, accountID)
	return cloneStation(s), nil
}

const earthRadiusMeters = 6371008.8

func haversineMeters(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func cloneStation(s domain.Station) domain.Station {
	s.BookedBy = copyString(s.BookedBy)
	s.Amenities = append([]string{}, s.Amenities...)
	return s
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
