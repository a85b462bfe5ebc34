// Package rental is the orchestrator of the rental lifecycle. Every
// lock/unlock transition and every mutation of Car.Status, Car.RentedBy,
// Client.ActiveRentalVIN and Rental.EndedAt goes through this service.
package rental

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/command"
	"carshare/internal/fleet"
	"carshare/internal/geo"
	"carshare/internal/models"
	"carshare/internal/store"
)

// Notifier pushes out-of-band messages to a connected rider. Optional;
// riders on the request/response binding simply do not receive pushes.
type Notifier interface {
	NotifyClient(clientID, text string)
}

type Service struct {
	store      store.Store
	commands   *command.Service
	lg         *zap.SugaredLogger
	maxStartKm float64
	notifier   Notifier
}

func NewService(st store.Store, cmds *command.Service, lg *zap.SugaredLogger, maxStartKm float64) *Service {
	return &Service{store: st, commands: cmds, lg: lg, maxStartKm: maxStartKm}
}

// SetNotifier registers the optional push transport. Must be called before
// the service starts receiving traffic.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Start begins a rental after all preconditions pass: the client exists and
// has no active rental, the car exists and is available, and the client is
// within the proximity limit. The one-active-rental check runs inside the
// client's atomic mutation: the client claims the VIN first, so two
// concurrent starts by the same client cannot both pass. The car's version
// CAS then serializes competing clients; a lost race releases the claim and
// surfaces as a conflict. The UNLOCK command is enqueued fire-and-forget:
// the call succeeds once state is committed, whether or not the vehicle has
// confirmed yet.
func (s *Service) Start(ctx context.Context, clientID, vin string) (*models.Rental, *models.Car, error) {
	car, err := s.store.CarByVIN(ctx, vin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperr.NotFoundf("car not found")
		}
		return nil, nil, err
	}
	if car.Status != models.CarStatusAvailable {
		return nil, nil, apperr.Conflictf("car is not available")
	}

	client, err := s.store.MutateClient(ctx, clientID, func(c *models.Client) error {
		if c.ActiveRentalVIN != nil {
			return apperr.Conflictf("client already has an active rental")
		}
		c.ActiveRentalVIN = &vin
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperr.NotFoundf("client not found")
		}
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, nil, apperr.Conflictf("client already has an active rental")
		}
		return nil, nil, err
	}

	if d := geo.DistanceKm(client.Lat, client.Lon, car.Lat, car.Lon); d > s.maxStartKm {
		s.releaseClaim(ctx, clientID)
		return nil, nil, apperr.Validationf("car is farther than %g km", s.maxStartKm)
	}

	car, err = s.store.MutateCar(ctx, vin, func(c *models.Car) error {
		if err := fleet.Transition(ctx, c, fleet.EventRent); err != nil {
			return apperr.Conflictf("car is not available")
		}
		c.RentedBy = &clientID
		return nil
	})
	if err != nil {
		s.releaseClaim(ctx, clientID)
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, nil, apperr.Conflictf("car is not available")
		}
		return nil, nil, err
	}

	rental := &models.Rental{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		VIN:       vin,
		Status:    models.RentalActive,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRental(ctx, rental); err != nil {
		s.releaseClaim(ctx, clientID)
		if _, rerr := s.store.MutateCar(ctx, vin, func(c *models.Car) error {
			c.Status = models.CarStatusAvailable
			c.RentedBy = nil
			return nil
		}); rerr != nil {
			s.lg.Warnw("car rollback failed", "vin", vin, "error", rerr)
		}
		return nil, nil, err
	}

	if _, err := s.commands.Enqueue(ctx, vin, models.CommandUnlock); err != nil {
		s.lg.Warnw("unlock enqueue failed", "vin", vin, "error", err)
	}
	s.audit(ctx, clientID, "rental.start", map[string]any{"vin": vin, "rental_id": rental.ID})
	s.notify(clientID, fmt.Sprintf("Car %s unlocked", vin))
	s.lg.Infow("rental started", "client_id", clientID, "vin", vin, "rental_id", rental.ID)
	return rental, car, nil
}

// safetyIssues lists every violated flag of the end-rental safety predicate.
func safetyIssues(car *models.Car) []string {
	var issues []string
	if !car.DoorsClosed {
		issues = append(issues, "doors_open")
	}
	if !car.LightsOff {
		issues = append(issues, "lights_on")
	}
	if !car.EngineOff {
		issues = append(issues, "engine_on")
	}
	return issues
}

// End closes the client's rental of the car. The safety predicate is
// evaluated against the latest heartbeat-reported telematics snapshot; a
// STATE_QUERY command is enqueued so the vehicle refreshes its state, but
// End never blocks on the round trip. A failed safety check mutates nothing:
// repeated failed attempts leave the rental open and the car rented.
func (s *Service) End(ctx context.Context, clientID, vin string) (*models.Rental, *models.Car, error) {
	car, err := s.store.CarByVIN(ctx, vin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperr.NotFoundf("car not found")
		}
		return nil, nil, err
	}
	rental, err := s.store.OpenRental(ctx, clientID, vin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, apperr.Conflictf("no active rental for this car")
		}
		return nil, nil, err
	}

	if _, err := s.commands.Enqueue(ctx, vin, models.CommandStateQuery); err != nil {
		s.lg.Debugw("state query enqueue failed", "vin", vin, "error", err)
	}

	if issues := safetyIssues(car); len(issues) > 0 {
		s.notify(clientID, "Cannot end rental: "+strings.Join(issues, ", "))
		return nil, nil, apperr.Precondition("car is not in a safe state", issues)
	}

	car, err = s.store.MutateCar(ctx, vin, func(c *models.Car) error {
		if c.RentedBy == nil || *c.RentedBy != clientID {
			return apperr.Conflictf("no active rental for this car")
		}
		if err := fleet.Transition(ctx, c, fleet.EventReturn); err != nil {
			return apperr.Conflictf("no active rental for this car")
		}
		c.RentedBy = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, nil, apperr.Conflictf("no active rental for this car")
		}
		return nil, nil, err
	}

	now := time.Now().UTC()
	rental, err = s.store.MutateRental(ctx, rental.ID, func(r *models.Rental) error {
		r.EndedAt = &now
		r.Status = models.RentalEnded
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.store.MutateClient(ctx, clientID, func(c *models.Client) error {
		c.ActiveRentalVIN = nil
		return nil
	}); err != nil {
		return nil, nil, err
	}

	if _, err := s.commands.Enqueue(ctx, vin, models.CommandLock); err != nil {
		s.lg.Warnw("lock enqueue failed", "vin", vin, "error", err)
	}
	s.audit(ctx, clientID, "rental.end", map[string]any{"vin": vin, "rental_id": rental.ID})
	s.notify(clientID, fmt.Sprintf("Rental %s ended and car locked", rental.ID))
	s.lg.Infow("rental ended", "client_id", clientID, "vin", vin, "rental_id", rental.ID)
	return rental, car, nil
}

// HistoryFor returns the client's rentals, newest first.
func (s *Service) HistoryFor(ctx context.Context, clientID string) ([]models.Rental, error) {
	return s.store.RentalsByClient(ctx, clientID)
}

// releaseClaim undoes a client's ActiveRentalVIN claim when a later start
// step fails.
func (s *Service) releaseClaim(ctx context.Context, clientID string) {
	if _, err := s.store.MutateClient(ctx, clientID, func(c *models.Client) error {
		c.ActiveRentalVIN = nil
		return nil
	}); err != nil {
		s.lg.Warnw("rental claim release failed", "client_id", clientID, "error", err)
	}
}

func (s *Service) notify(clientID, text string) {
	if s.notifier != nil {
		s.notifier.NotifyClient(clientID, text)
	}
}

func (s *Service) audit(ctx context.Context, clientID, action string, meta map[string]any) {
	e := &models.AuditLog{
		ClientID:  &clientID,
		Action:    action,
		Metadata:  models.Meta(meta),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.lg.Warnw("audit append failed", "action", action, "error", err)
	}
}
