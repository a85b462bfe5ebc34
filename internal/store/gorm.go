package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"carshare/internal/models"
)

// Gorm is the durable Store backed by a *gorm.DB (SQLite or Postgres).
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// AutoMigrate creates or updates the schema for every model.
func (s *Gorm) AutoMigrate() error {
	return s.db.AutoMigrate(models.All()...)
}

func mapErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Gorm) CreateClient(ctx context.Context, c *models.Client) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Gorm) ClientByID(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Gorm) ClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	var c models.Client
	if err := s.db.WithContext(ctx).First(&c, "email = ?", email).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Gorm) MutateClient(ctx context.Context, id string, fn func(*models.Client) error) (*models.Client, error) {
	var out models.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Client
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return mapErr(err)
		}
		old := c.Version
		if err := fn(&c); err != nil {
			return err
		}
		c.Version = old + 1
		res := tx.Model(&models.Client{}).
			Where("id = ? AND version = ?", id, old).
			Select("*").Omit("id", "created_at").Updates(&c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Gorm) CreateCar(ctx context.Context, c *models.Car) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Gorm) CarByVIN(ctx context.Context, vin string) (*models.Car, error) {
	var c models.Car
	if err := s.db.WithContext(ctx).First(&c, "vin = ?", vin).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Gorm) Cars(ctx context.Context) ([]models.Car, error) {
	var cars []models.Car
	if err := s.db.WithContext(ctx).Order("vin asc").Find(&cars).Error; err != nil {
		return nil, err
	}
	return cars, nil
}

func (s *Gorm) MutateCar(ctx context.Context, vin string, fn func(*models.Car) error) (*models.Car, error) {
	var out models.Car
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Car
		if err := tx.First(&c, "vin = ?", vin).Error; err != nil {
			return mapErr(err)
		}
		old := c.Version
		if err := fn(&c); err != nil {
			return err
		}
		c.Version = old + 1
		res := tx.Model(&models.Car{}).
			Where("vin = ? AND version = ?", vin, old).
			Select("*").Omit("vin", "created_at").Updates(&c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Gorm) CreateSession(ctx context.Context, sess *models.Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Gorm) SessionByJTI(ctx context.Context, jti string) (*models.Session, error) {
	var sess models.Session
	if err := s.db.WithContext(ctx).First(&sess, "jti = ?", jti).Error; err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}

func (s *Gorm) MutateSession(ctx context.Context, jti string, fn func(*models.Session) error) (*models.Session, error) {
	var out models.Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		if err := tx.First(&sess, "jti = ?", jti).Error; err != nil {
			return mapErr(err)
		}
		if err := fn(&sess); err != nil {
			return err
		}
		if err := tx.Model(&models.Session{}).
			Where("jti = ?", jti).
			Select("*").Omit("jti", "created_at").Updates(&sess).Error; err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Gorm) CreateCarSession(ctx context.Context, sess *models.CarSession) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Gorm) CarSessionByToken(ctx context.Context, token string) (*models.CarSession, error) {
	var sess models.CarSession
	if err := s.db.WithContext(ctx).First(&sess, "token = ?", token).Error; err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}

func (s *Gorm) CreateRental(ctx context.Context, r *models.Rental) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *Gorm) OpenRental(ctx context.Context, clientID, vin string) (*models.Rental, error) {
	var r models.Rental
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND vin = ? AND ended_at IS NULL", clientID, vin).
		Order("started_at desc").
		First(&r).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Gorm) RentalsByClient(ctx context.Context, clientID string) ([]models.Rental, error) {
	var rentals []models.Rental
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("started_at desc").
		Find(&rentals).Error
	if err != nil {
		return nil, err
	}
	return rentals, nil
}

func (s *Gorm) MutateRental(ctx context.Context, id string, fn func(*models.Rental) error) (*models.Rental, error) {
	var out models.Rental
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.Rental
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			return mapErr(err)
		}
		old := r.Version
		if err := fn(&r); err != nil {
			return err
		}
		r.Version = old + 1
		res := tx.Model(&models.Rental{}).
			Where("id = ? AND version = ?", id, old).
			Select("*").Omit("id").Updates(&r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Gorm) CreateCommand(ctx context.Context, c *models.Command) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Gorm) CommandByID(ctx context.Context, id string) (*models.Command, error) {
	var c models.Command
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Gorm) PendingCommands(ctx context.Context, vin string) ([]models.Command, error) {
	var cmds []models.Command
	err := s.db.WithContext(ctx).
		Where("vin = ? AND status = ?", vin, models.CommandPending).
		Order("seq asc").
		Find(&cmds).Error
	if err != nil {
		return nil, err
	}
	return cmds, nil
}

func (s *Gorm) MutateCommand(ctx context.Context, id string, fn func(*models.Command) error) (*models.Command, error) {
	var out models.Command
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Command
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return mapErr(err)
		}
		old := c.Version
		if err := fn(&c); err != nil {
			return err
		}
		c.Version = old + 1
		res := tx.Model(&models.Command{}).
			Where("id = ? AND version = ?", id, old).
			Select("*").Omit("seq", "id", "created_at").Updates(&c)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Gorm) AppendAudit(ctx context.Context, e *models.AuditLog) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Gorm) AuditByClient(ctx context.Context, clientID string, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Gorm) Counts(ctx context.Context) (int64, int64, error) {
	var clients, cars int64
	if err := s.db.WithContext(ctx).Model(&models.Client{}).Count(&clients).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Car{}).Count(&cars).Error; err != nil {
		return 0, 0, err
	}
	return clients, cars, nil
}

var _ Store = (*Gorm)(nil)
