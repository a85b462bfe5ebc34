// Package command implements the asynchronous command channel between the
// backend and vehicles. The backend enqueues, the car client polls and acks
// on its own schedule; nothing here blocks on vehicle delivery.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/fleet"
	"carshare/internal/models"
	"carshare/internal/store"
)

// Dispatcher is notified after a command is enqueued so push transports
// (the websocket hub) can deliver it immediately. Delivery is best-effort;
// the poll path remains authoritative.
type Dispatcher interface {
	DispatchCommand(cmd models.Command)
}

type Service struct {
	store      store.Store
	fleet      *fleet.Service
	lg         *zap.SugaredLogger
	dispatcher Dispatcher
}

func NewService(st store.Store, fl *fleet.Service, lg *zap.SugaredLogger) *Service {
	return &Service{store: st, fleet: fl, lg: lg}
}

// SetDispatcher registers the optional push transport. Must be called before
// the service starts receiving traffic.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Enqueue appends a pending command for the VIN and returns it.
func (s *Service) Enqueue(ctx context.Context, vin string, kind models.CommandKind) (*models.Command, error) {
	if _, err := s.store.CarByVIN(ctx, vin); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("car not found")
		}
		return nil, err
	}
	cmd := &models.Command{
		ID:        uuid.NewString(),
		VIN:       vin,
		Kind:      kind,
		Status:    models.CommandPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCommand(ctx, cmd); err != nil {
		return nil, err
	}
	s.lg.Infow("command enqueued", "vin", vin, "kind", kind, "command_id", cmd.ID)
	if s.dispatcher != nil {
		s.dispatcher.DispatchCommand(*cmd)
	}
	return cmd, nil
}

// Poll returns the VIN's pending commands in enqueue order. Commands stay
// pending until explicitly acked.
func (s *Service) Poll(ctx context.Context, vin string) ([]models.Command, error) {
	cmds, err := s.store.PendingCommands(ctx, vin)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, vin)
	return cmds, nil
}

// Ack resolves a pending command. A command that does not belong to the
// authenticated VIN, or that was already acked, is reported as not found.
// A successful UNLOCK/LOCK ack is the moment the car's locked flag changes:
// logical rental state moves at decision time, physical state only when the
// vehicle confirms.
func (s *Service) Ack(ctx context.Context, vin, commandID string, success bool, note string) (*models.Command, error) {
	now := time.Now().UTC()
	cmd, err := s.store.MutateCommand(ctx, commandID, func(c *models.Command) error {
		if c.VIN != vin || c.Status != models.CommandPending {
			return apperr.NotFoundf("command not found")
		}
		c.Status = models.CommandAcked
		c.AckedAt = &now
		c.Success = &success
		if n := note; n != "" {
			c.Note = &n
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("command not found")
		}
		return nil, err
	}

	if success {
		switch cmd.Kind {
		case models.CommandUnlock:
			locked := false
			if _, err := s.fleet.ApplyTelematics(ctx, vin, fleet.TelematicsUpdate{Locked: &locked}); err != nil {
				s.lg.Warnw("unlock ack: locked flag update failed", "vin", vin, "error", err)
			}
		case models.CommandLock:
			locked := true
			if _, err := s.fleet.ApplyTelematics(ctx, vin, fleet.TelematicsUpdate{Locked: &locked}); err != nil {
				s.lg.Warnw("lock ack: locked flag update failed", "vin", vin, "error", err)
			}
		}
	} else {
		s.touch(ctx, vin)
	}

	audit := &models.AuditLog{
		Action:    "command.ack",
		Metadata:  models.Meta(map[string]any{"vin": vin, "kind": cmd.Kind, "success": success}),
		CreatedAt: now,
	}
	if err := s.store.AppendAudit(ctx, audit); err != nil {
		s.lg.Warnw("audit append failed", "action", audit.Action, "error", err)
	}
	s.lg.Infow("command acked", "vin", vin, "command_id", commandID, "success", success)
	return cmd, nil
}

// Heartbeat applies reported telematics and returns the updated car with the
// number of commands still waiting for it.
func (s *Service) Heartbeat(ctx context.Context, vin string, upd fleet.TelematicsUpdate) (*models.Car, int, error) {
	car, err := s.fleet.ApplyTelematics(ctx, vin, upd)
	if err != nil {
		return nil, 0, err
	}
	pending, err := s.store.PendingCommands(ctx, vin)
	if err != nil {
		return nil, 0, err
	}
	return car, len(pending), nil
}

func (s *Service) touch(ctx context.Context, vin string) {
	now := time.Now().UTC()
	if _, err := s.store.MutateCar(ctx, vin, func(c *models.Car) error {
		c.LastSeenAt = &now
		return nil
	}); err != nil {
		s.lg.Debugw("last seen update failed", "vin", vin, "error", err)
	}
}
