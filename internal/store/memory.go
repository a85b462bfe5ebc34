package store

import (
	"context"
	"sort"
	"sync"

	"carshare/internal/models"
)

// Memory is an in-memory Store. It honors the same atomicity contract as the
// durable backend: each operation runs under the store mutex, and Mutate
// bumps the record version. Used by tests and available as a runtime backend.
type Memory struct {
	mu          sync.Mutex
	clients     map[string]models.Client
	cars        map[string]models.Car
	sessions    map[string]models.Session
	carSessions map[string]models.CarSession
	rentals     map[string]models.Rental
	commands    map[string]models.Command
	audit       []models.AuditLog
	nextSeq     int64
	nextAuditID int64
}

func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[string]models.Client),
		cars:        make(map[string]models.Car),
		sessions:    make(map[string]models.Session),
		carSessions: make(map[string]models.CarSession),
		rentals:     make(map[string]models.Rental),
		commands:    make(map[string]models.Command),
	}
}

func (s *Memory) CreateClient(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = *c
	return nil
}

func (s *Memory) ClientByID(_ context.Context, id string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Memory) ClientByEmail(_ context.Context, email string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Email == email {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) MutateClient(_ context.Context, id string, fn func(*models.Client) error) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.Version++
	s.clients[id] = c
	return &c, nil
}

func (s *Memory) CreateCar(_ context.Context, c *models.Car) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cars[c.VIN] = *c
	return nil
}

func (s *Memory) CarByVIN(_ context.Context, vin string) (*models.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cars[vin]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Memory) Cars(_ context.Context) ([]models.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cars := make([]models.Car, 0, len(s.cars))
	for _, c := range s.cars {
		cars = append(cars, c)
	}
	sort.Slice(cars, func(i, j int) bool { return cars[i].VIN < cars[j].VIN })
	return cars, nil
}

func (s *Memory) MutateCar(_ context.Context, vin string, fn func(*models.Car) error) (*models.Car, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cars[vin]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.Version++
	s.cars[vin] = c
	return &c, nil
}

func (s *Memory) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.JTI] = *sess
	return nil
}

func (s *Memory) SessionByJTI(_ context.Context, jti string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *Memory) MutateSession(_ context.Context, jti string, fn func(*models.Session) error) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[jti]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&sess); err != nil {
		return nil, err
	}
	s.sessions[jti] = sess
	return &sess, nil
}

func (s *Memory) CreateCarSession(_ context.Context, sess *models.CarSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carSessions[sess.Token] = *sess
	return nil
}

func (s *Memory) CarSessionByToken(_ context.Context, token string) (*models.CarSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.carSessions[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *Memory) CreateRental(_ context.Context, r *models.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rentals[r.ID] = *r
	return nil
}

func (s *Memory) OpenRental(_ context.Context, clientID, vin string) (*models.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rentals {
		if r.ClientID == clientID && r.VIN == vin && r.EndedAt == nil {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) RentalsByClient(_ context.Context, clientID string) ([]models.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rentals []models.Rental
	for _, r := range s.rentals {
		if r.ClientID == clientID {
			rentals = append(rentals, r)
		}
	}
	sort.Slice(rentals, func(i, j int) bool { return rentals[i].StartedAt.After(rentals[j].StartedAt) })
	return rentals, nil
}

func (s *Memory) MutateRental(_ context.Context, id string, fn func(*models.Rental) error) (*models.Rental, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rentals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&r); err != nil {
		return nil, err
	}
	r.Version++
	s.rentals[id] = r
	return &r, nil
}

func (s *Memory) CreateCommand(_ context.Context, c *models.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	c.Seq = s.nextSeq
	s.commands[c.ID] = *c
	return nil
}

func (s *Memory) CommandByID(_ context.Context, id string) (*models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Memory) PendingCommands(_ context.Context, vin string) ([]models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cmds []models.Command
	for _, c := range s.commands {
		if c.VIN == vin && c.Status == models.CommandPending {
			cmds = append(cmds, c)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Seq < cmds[j].Seq })
	return cmds, nil
}

func (s *Memory) MutateCommand(_ context.Context, id string, fn func(*models.Command) error) (*models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commands[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.Version++
	s.commands[id] = c
	return &c, nil
}

func (s *Memory) AppendAudit(_ context.Context, e *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	e.ID = s.nextAuditID
	s.audit = append(s.audit, *e)
	return nil
}

func (s *Memory) AuditByClient(_ context.Context, clientID string, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var logs []models.AuditLog
	for i := len(s.audit) - 1; i >= 0 && len(logs) < limit; i-- {
		e := s.audit[i]
		if e.ClientID != nil && *e.ClientID == clientID {
			logs = append(logs, e)
		}
	}
	return logs, nil
}

func (s *Memory) Counts(_ context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.clients)), int64(len(s.cars)), nil
}

var _ Store = (*Memory)(nil)
