package directory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Position is a job title employees can hold.
type Position struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Employee is a staff member customers can rate.
type Employee struct {
	ID         uuid.UUID  `json:"id"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	PositionID *uuid.UUID `json:"positionId,omitempty"`
	Position   string     `json:"position,omitempty"`
	PhotoURL   string     `json:"photoUrl"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type positionModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (positionModel) TableName() string { return "positions" }

func (m positionModel) toAPI() Position {
	return Position{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

type employeeModel struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	FirstName  string         `gorm:"type:text;not null"`
	LastName   string         `gorm:"type:text;not null"`
	PositionID *uuid.UUID     `gorm:"type:uuid;index"`
	PhotoURL   string         `gorm:"type:text"`
	Active     bool           `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"index"`

	Position *positionModel `gorm:"foreignKey:PositionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (employeeModel) TableName() string { return "employees" }

func (m employeeModel) toAPI() Employee {
	e := Employee{
		ID:         m.ID,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		PositionID: m.PositionID,
		PhotoURL:   m.PhotoURL,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.Position != nil {
		e.Position = m.Position.Name
	}
	return e
}
