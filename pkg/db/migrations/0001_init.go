package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// Schema snapshot at the time of this migration. Later changes go into new
// migrations rather than editing these types.

type FeedbackSession struct {
	ID                       uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DeviceID                 string         `gorm:"type:text;not null;index"`
	PharmacyRating           *int           `gorm:"type:smallint"`
	EmployeeRatings          datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	HasClientData            bool           `gorm:"not null;default:false"`
	ClientConsent            bool           `gorm:"not null;default:false;index"`
	ClientData               datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"`
	Suggestion               *string        `gorm:"type:text"`
	Status                   string         `gorm:"type:text;not null;index"`
	StartedAt                time.Time      `gorm:"type:timestamptz;not null"`
	LastActiveAt             time.Time      `gorm:"type:timestamptz;not null;index"`
	CompletedAt              *time.Time     `gorm:"type:timestamptz;index"`
	InactivityTimeoutMinutes int            `gorm:"not null"`
}

type Position struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

type Employee struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	FirstName  string         `gorm:"type:text;not null"`
	LastName   string         `gorm:"type:text;not null"`
	PositionID *uuid.UUID     `gorm:"type:uuid;index"`
	PhotoURL   string         `gorm:"type:text"`
	Active     bool           `gorm:"not null;default:true"`
	CreatedAt  time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time      `gorm:"type:timestamptz;not null;default:now()"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`
	Position   *Position      `gorm:"foreignKey:PositionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

type Setting struct {
	Key                   string         `gorm:"type:text;primaryKey"`
	EmployeePageEnabled   bool           `gorm:"not null"`
	ClientPageEnabled     bool           `gorm:"not null"`
	SuggestionPageEnabled bool           `gorm:"not null"`
	ThankYouEnabled       bool           `gorm:"not null"`
	KioskMode             bool           `gorm:"not null"`
	KioskTimeoutMinutes   int            `gorm:"not null"`
	SessionTimeoutMinutes int            `gorm:"not null"`
	ReportRecipients      datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	UpdatedAt             time.Time      `gorm:"type:timestamptz;not null;default:now()"`
}

type AdminUser struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        string     `gorm:"type:text;uniqueIndex;not null"`
	Name         string     `gorm:"type:text;not null"`
	PasswordHash string     `gorm:"type:text;not null"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	LastLoginAt  *time.Time `gorm:"type:timestamptz"`
}

type Report struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	PeriodStart       time.Time      `gorm:"type:timestamptz;not null;index"`
	PeriodEnd         time.Time      `gorm:"type:timestamptz;not null"`
	Sessions          int            `gorm:"not null"`
	AvgPharmacyRating float64        `gorm:"not null"`
	Employees         datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"`
	Suggestions       int            `gorm:"not null"`
	ConsentedClients  int            `gorm:"not null"`
	ObjectKey         string         `gorm:"type:text"`
	CreatedAt         time.Time      `gorm:"type:timestamptz;not null;default:now()"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&FeedbackSession{},
		&Position{},
		&Employee{},
		&Setting{},
		&AdminUser{},
		&Report{},
	); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().CreateConstraint(&Employee{}, "Position")
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Report{},
		&AdminUser{},
		&Setting{},
		&Employee{},
		&Position{},
		&FeedbackSession{},
	)
}
