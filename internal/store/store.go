// Package store abstracts persistence behind atomic per-entity operations.
// Services depend only on the Store interface; the concrete backend is either
// GORM over SQLite/Postgres or the in-memory implementation.
package store

import (
	"context"
	"errors"

	"carshare/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned by Mutate* when a concurrent writer updated
// the record between read and write. Callers decide whether to retry or to
// surface the lost race as a conflict.
var ErrVersionConflict = errors.New("version conflict")

// Store is the repository contract. Every Mutate method performs an atomic
// read-modify-write on a single record: it loads the current row, applies fn,
// and writes back only if the version is unchanged. fn returning an error
// aborts the mutation without writing.
type Store interface {
	CreateClient(ctx context.Context, c *models.Client) error
	ClientByID(ctx context.Context, id string) (*models.Client, error)
	ClientByEmail(ctx context.Context, email string) (*models.Client, error)
	MutateClient(ctx context.Context, id string, fn func(*models.Client) error) (*models.Client, error)

	CreateCar(ctx context.Context, c *models.Car) error
	CarByVIN(ctx context.Context, vin string) (*models.Car, error)
	Cars(ctx context.Context) ([]models.Car, error)
	MutateCar(ctx context.Context, vin string, fn func(*models.Car) error) (*models.Car, error)

	CreateSession(ctx context.Context, s *models.Session) error
	SessionByJTI(ctx context.Context, jti string) (*models.Session, error)
	MutateSession(ctx context.Context, jti string, fn func(*models.Session) error) (*models.Session, error)

	CreateCarSession(ctx context.Context, s *models.CarSession) error
	CarSessionByToken(ctx context.Context, token string) (*models.CarSession, error)

	CreateRental(ctx context.Context, r *models.Rental) error
	OpenRental(ctx context.Context, clientID, vin string) (*models.Rental, error)
	RentalsByClient(ctx context.Context, clientID string) ([]models.Rental, error)
	MutateRental(ctx context.Context, id string, fn func(*models.Rental) error) (*models.Rental, error)

	// CreateCommand assigns the command its FIFO sequence number.
	CreateCommand(ctx context.Context, c *models.Command) error
	CommandByID(ctx context.Context, id string) (*models.Command, error)
	PendingCommands(ctx context.Context, vin string) ([]models.Command, error)
	MutateCommand(ctx context.Context, id string, fn func(*models.Command) error) (*models.Command, error)

	AppendAudit(ctx context.Context, e *models.AuditLog) error
	AuditByClient(ctx context.Context, clientID string, limit int) ([]models.AuditLog, error)

	// Counts reports client and car totals for the health endpoint.
	Counts(ctx context.Context) (clients, cars int64, err error)
}
