package fleet

import (
	"context"

	"github.com/looplab/fsm"

	"carshare/internal/models"
)

// Car status transition events.
const (
	// EventRent moves AVAILABLE -> RENTED.
	EventRent = "rent"
	// EventReturn moves RENTED -> AVAILABLE.
	EventReturn = "return"
)

func newStatusMachine(current models.CarStatus) *fsm.FSM {
	return fsm.NewFSM(
		string(current),
		fsm.Events{
			{Name: EventRent, Src: []string{string(models.CarStatusAvailable)}, Dst: string(models.CarStatusRented)},
			{Name: EventReturn, Src: []string{string(models.CarStatusRented)}, Dst: string(models.CarStatusAvailable)},
		},
		fsm.Callbacks{},
	)
}

// Transition applies a status event to the car, rejecting illegal moves
// (e.g. renting a car that is not AVAILABLE). On success the car's Status is
// set to the destination state; RentedBy is the caller's responsibility.
func Transition(ctx context.Context, car *models.Car, event string) error {
	m := newStatusMachine(car.Status)
	if err := m.Event(ctx, event); err != nil {
		return err
	}
	car.Status = models.CarStatus(m.Current())
	return nil
}
