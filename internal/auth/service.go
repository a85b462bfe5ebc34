// Package auth validates registration and login, and issues and validates
// bearer tokens for riders and for car telematics clients. The two token
// namespaces are disjoint: rider tokens are signed JWTs resolved through the
// sessions table, car tokens are opaque ids resolved through car_sessions.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carshare/internal/apperr"
	"carshare/internal/models"
	"carshare/internal/store"
)

type Service struct {
	store     store.Store
	lg        *zap.SugaredLogger
	secret    []byte
	ttl       time.Duration
	carAPIKey string
}

func NewService(st store.Store, lg *zap.SugaredLogger, secret string, ttl time.Duration, carAPIKey string) *Service {
	return &Service{store: st, lg: lg, secret: []byte(secret), ttl: ttl, carAPIKey: carAPIKey}
}

// Profile carries the registration input. Age and LicenseValidUntil are
// optional; when present they must pass the minimum-age and license-expiry
// checks.
type Profile struct {
	Name              string
	Email             string
	DriverLicense     string
	PaymentMethod     string
	PIN               string
	Age               int
	LicenseValidUntil *time.Time
	Lat               float64
	Lon               float64
}

// Register creates a rider. It fails with a validation error listing every
// missing required field, and with a conflict error on a duplicate email.
func (s *Service) Register(ctx context.Context, p Profile) (*models.Client, error) {
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))

	var missing []string
	for _, f := range []struct{ name, val string }{
		{"name", p.Name},
		{"email", p.Email},
		{"driver_license", p.DriverLicense},
		{"payment_method", p.PaymentMethod},
		{"pin", p.PIN},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.Validationf("missing fields: %s", strings.Join(missing, ", "))
	}
	if p.Age != 0 && p.Age < 18 {
		return nil, apperr.Validationf("age must be 18+")
	}
	if p.LicenseValidUntil != nil && p.LicenseValidUntil.Before(time.Now()) {
		return nil, apperr.Validationf("driving license expired")
	}

	if _, err := s.store.ClientByEmail(ctx, p.Email); err == nil {
		return nil, apperr.Conflictf("client already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := HashPIN(p.PIN)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &models.Client{
		ID:                uuid.NewString(),
		Name:              p.Name,
		Email:             p.Email,
		DriverLicense:     p.DriverLicense,
		PaymentMethod:     p.PaymentMethod,
		PINHash:           hash,
		Age:               p.Age,
		LicenseValidUntil: p.LicenseValidUntil,
		Lat:               p.Lat,
		Lon:               p.Lon,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	s.audit(ctx, c.ID, "client.register", map[string]any{"email": c.Email})
	s.lg.Infow("client registered", "client_id", c.ID, "email", c.Email)
	return c, nil
}

// Login verifies the email/PIN pair, issues a session token and returns it
// with the client profile.
func (s *Service) Login(ctx context.Context, email, pin string) (string, *models.Client, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	c, err := s.store.ClientByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, apperr.Authf("invalid credentials")
		}
		return "", nil, err
	}
	if err := CheckPIN(c.PINHash, pin); err != nil {
		return "", nil, apperr.Authf("invalid credentials")
	}
	jti := uuid.NewString()
	tok, err := Sign(s.secret, c.ID, jti, s.ttl)
	if err != nil {
		return "", nil, err
	}
	sess := &models.Session{
		JTI:       jti,
		ClientID:  c.ID,
		ExpiresAt: time.Now().Add(s.ttl),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}
	s.audit(ctx, c.ID, "client.login", nil)
	return tok, c, nil
}

// Authenticate resolves a rider bearer token to a client id. Expired and
// revoked sessions are rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := Verify(s.secret, token)
	if err != nil || claims.JWTID == "" {
		return "", apperr.Authf("invalid token")
	}
	sess, err := s.store.SessionByJTI(ctx, claims.JWTID)
	if err != nil {
		return "", apperr.Authf("session not found")
	}
	if sess.RevokedAt != nil || time.Now().After(sess.ExpiresAt) {
		return "", apperr.Authf("session expired or revoked")
	}
	return sess.ClientID, nil
}

// Logout revokes the session behind the token. Revoking an already revoked
// session is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := Verify(s.secret, token)
	if err != nil || claims.JWTID == "" {
		return apperr.Authf("invalid token")
	}
	_, err = s.store.MutateSession(ctx, claims.JWTID, func(sess *models.Session) error {
		if sess.RevokedAt == nil {
			now := time.Now().UTC()
			sess.RevokedAt = &now
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Authf("session not found")
	}
	return err
}

// Me returns the profile of an authenticated rider.
func (s *Service) Me(ctx context.Context, clientID string) (*models.Client, error) {
	c, err := s.store.ClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFoundf("client not found")
		}
		return nil, err
	}
	return c, nil
}

// UpdateLocation records the rider's latest reported position.
func (s *Service) UpdateLocation(ctx context.Context, clientID string, lat, lon float64) error {
	_, err := s.store.MutateClient(ctx, clientID, func(c *models.Client) error {
		c.Lat = lat
		c.Lon = lon
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFoundf("client not found")
	}
	return err
}

// RegisterCar authenticates a telematics unit by the shared API key and
// issues it a car session token for its VIN.
func (s *Service) RegisterCar(ctx context.Context, vin, apiKey string) (string, error) {
	if apiKey != s.carAPIKey {
		return "", apperr.Authf("invalid car api key")
	}
	if _, err := s.store.CarByVIN(ctx, vin); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperr.NotFoundf("car not found")
		}
		return "", err
	}
	sess := &models.CarSession{
		Token:     uuid.NewString(),
		VIN:       vin,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCarSession(ctx, sess); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, _ = s.store.MutateCar(ctx, vin, func(car *models.Car) error {
		car.LastSeenAt = &now
		return nil
	})
	s.lg.Infow("car client registered", "vin", vin)
	return sess.Token, nil
}

// AuthenticateCar resolves a car session token to its VIN.
func (s *Service) AuthenticateCar(ctx context.Context, token string) (string, error) {
	sess, err := s.store.CarSessionByToken(ctx, token)
	if err != nil {
		return "", apperr.Authf("unauthorized car client")
	}
	return sess.VIN, nil
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
