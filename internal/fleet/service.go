// Package fleet tracks car records and answers availability queries.
// Telematics updates land here without business validation; the rental
// service evaluates the safety predicate at end-rental time.
package fleet

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/geo"
	"carshare/internal/models"
	"carshare/internal/store"
)

type Service struct {
	store store.Store
	lg    *zap.SugaredLogger
}

func NewService(st store.Store, lg *zap.SugaredLogger) *Service {
	return &Service{store: st, lg: lg}
}

// CarWithDistance annotates a car with its straight-line distance from the
// querying rider.
type CarWithDistance struct {
	models.Car
	DistanceKm float64 `json:"distance_km"`
}

// ListAvailable returns all AVAILABLE cars sorted by ascending distance from
// the given location.
func (s *Service) ListAvailable(ctx context.Context, lat, lon float64) ([]CarWithDistance, error) {
	cars, err := s.store.Cars(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CarWithDistance, 0, len(cars))
	for _, c := range cars {
		if c.Status != models.CarStatusAvailable {
			continue
		}
		out = append(out, CarWithDistance{
			Car:        c,
			DistanceKm: geo.RoundKm(geo.DistanceKm(lat, lon, c.Lat, c.Lon)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (s *Service) GetByVIN(ctx context.Context, vin string) (*models.Car, error) {
	c, err := s.store.CarByVIN(ctx, vin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("car not found")
		}
		return nil, err
	}
	return c, nil
}

// SetTelematicsClient binds (or clears) the persistent-channel client id of
// the car's telematics unit.
func (s *Service) SetTelematicsClient(ctx context.Context, vin string, clientID *string) error {
	_, err := s.store.MutateCar(ctx, vin, func(c *models.Car) error {
		c.TelematicsClientID = clientID
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("car not found")
	}
	return err
}

// TelematicsUpdate is a partial update; nil fields are left untouched.
type TelematicsUpdate struct {
	Locked      *bool `json:"locked,omitempty"`
	DoorsClosed *bool `json:"doors_closed,omitempty"`
	LightsOff   *bool `json:"lights_off,omitempty"`
	EngineOff   *bool `json:"engine_off,omitempty"`
	BatteryPct  *int  `json:"battery_pct,omitempty"`
}

// ApplyTelematics applies reported vehicle state to the car record and
// stamps LastSeenAt. Battery is clamped to 0..100.
func (s *Service) ApplyTelematics(ctx context.Context, vin string, upd TelematicsUpdate) (*models.Car, error) {
	now := time.Now().UTC()
	car, err := s.store.MutateCar(ctx, vin, func(c *models.Car) error {
		if upd.Locked != nil {
			c.Locked = *upd.Locked
		}
		if upd.DoorsClosed != nil {
			c.DoorsClosed = *upd.DoorsClosed
		}
		if upd.LightsOff != nil {
			c.LightsOff = *upd.LightsOff
		}
		if upd.EngineOff != nil {
			c.EngineOff = *upd.EngineOff
		}
		if upd.BatteryPct != nil {
			pct := *upd.BatteryPct
			if pct < 0 {
				pct = 0
			}
			if pct > 100 {
				pct = 100
			}
			c.BatteryPct = pct
		}
		c.LastSeenAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("car not found")
		}
		return nil, err
	}
	s.lg.Debugw("telematics applied", "vin", vin)
	return car, nil
}
