package models

import "time"

type CarStatus string

const (
	CarStatusAvailable CarStatus = "AVAILABLE"
	CarStatusRented    CarStatus = "RENTED"
)

type CommandKind string

const (
	CommandUnlock     CommandKind = "UNLOCK"
	CommandLock       CommandKind = "LOCK"
	CommandStateQuery CommandKind = "STATE_QUERY"
)

type CommandStatus string

const (
	CommandPending CommandStatus = "PENDING"
	CommandAcked   CommandStatus = "ACKED"
)

// Client is a registered rider. The PIN is stored as a bcrypt hash and is
// never serialized.
type Client struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	Name              string     `gorm:"not null" json:"name"`
	Email             string     `gorm:"uniqueIndex;not null" json:"email"`
	DriverLicense     string     `gorm:"not null" json:"driver_license"`
	PaymentMethod     string     `gorm:"not null" json:"payment_method"`
	PINHash           string     `gorm:"not null" json:"-"`
	Age               int        `json:"age,omitempty"`
	LicenseValidUntil *time.Time `json:"license_valid_until,omitempty"`
	Lat               float64    `json:"lat"`
	Lon               float64    `json:"lon"`
	ActiveRentalVIN   *string    `gorm:"size:32" json:"active_rental_vin,omitempty"`
	Version           uint       `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Car invariant: Status == RENTED iff RentedBy != nil. Both fields change
// only through the rental service's car mutation.
type Car struct {
	VIN                string     `gorm:"primaryKey;size:32" json:"vin"`
	Model              string     `json:"model"`
	Lat                float64    `json:"lat"`
	Lon                float64    `json:"lon"`
	Status             CarStatus  `gorm:"not null;default:AVAILABLE" json:"status"`
	RentedBy           *string    `gorm:"size:36" json:"rented_by,omitempty"`
	Locked             bool       `gorm:"not null;default:true" json:"locked"`
	DoorsClosed        bool       `gorm:"not null;default:true" json:"doors_closed"`
	LightsOff          bool       `gorm:"not null;default:true" json:"lights_off"`
	EngineOff          bool       `gorm:"not null;default:true" json:"engine_off"`
	BatteryPct         int        `gorm:"not null;default:100" json:"battery_pct"`
	TelematicsClientID *string    `json:"-"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	Version            uint       `gorm:"not null;default:0" json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Session is a rider login session, keyed by the jti claim of the bearer JWT.
type Session struct {
	JTI       string     `gorm:"primaryKey;size:64" json:"jti"`
	ClientID  string     `gorm:"index;not null;size:36" json:"client_id"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CarSession authorizes a telematics client for exactly one VIN. Car tokens
// live in their own namespace; a rider token never resolves here.
type CarSession struct {
	Token     string    `gorm:"primaryKey;size:36" json:"token"`
	VIN       string    `gorm:"index;not null;size:32" json:"vin"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RentalActive = "active"
	RentalEnded  = "ended"
)

type Rental struct {
	ID        string     `gorm:"primaryKey;size:36" json:"rental_id"`
	ClientID  string     `gorm:"index;not null;size:36" json:"client_id"`
	VIN       string     `gorm:"index;not null;size:32" json:"vin"`
	Status    string     `gorm:"not null;default:active" json:"status"`
	StartedAt time.Time  `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Version   uint       `gorm:"not null;default:0" json:"-"`
}

// Command is one queued instruction for a vehicle. Seq is the FIFO ordering
// key; pollers always observe a VIN's commands in Seq order.
type Command struct {
	Seq       int64         `gorm:"primaryKey;autoIncrement" json:"-"`
	ID        string        `gorm:"uniqueIndex;not null;size:36" json:"id"`
	VIN       string        `gorm:"index;not null;size:32" json:"vin"`
	Kind      CommandKind   `gorm:"not null" json:"kind"`
	Status    CommandStatus `gorm:"not null;default:PENDING" json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	AckedAt   *time.Time    `json:"acked_at,omitempty"`
	Success   *bool         `json:"success,omitempty"`
	Note      *string       `json:"note,omitempty"`
	Version   uint          `gorm:"not null;default:0" json:"-"`
}

type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClientID  *string   `gorm:"index;size:36" json:"client_id,omitempty"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// All returns the migration set.
func All() []any {
	return []any{
		&Client{}, &Car{}, &Session{}, &CarSession{},
		&Rental{}, &Command{}, &AuditLog{},
	}
}
