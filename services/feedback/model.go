package feedback

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type sessionModel struct {
	ID                       uuid.UUID                            `gorm:"type:uuid;primaryKey"`
	DeviceID                 string                               `gorm:"type:text;not null;index"`
	PharmacyRating           *int                                 `gorm:"type:smallint"`
	EmployeeRatings          datatypes.JSONType[[]EmployeeRating] `gorm:"not null"`
	HasClientData            bool                                 `gorm:"not null;default:false"`
	ClientConsent            bool                                 `gorm:"not null;default:false;index"`
	ClientData               datatypes.JSONType[ClientData]       `gorm:"not null"`
	Suggestion               *string                              `gorm:"type:text"`
	Status                   string                               `gorm:"type:text;not null;index"`
	StartedAt                time.Time                            `gorm:"not null"`
	LastActiveAt             time.Time                            `gorm:"not null;index"`
	CompletedAt              *time.Time                           `gorm:"index"`
	InactivityTimeoutMinutes int                                  `gorm:"not null"`
}

func (sessionModel) TableName() string { return "feedback_sessions" }

func newSessionModel(rec Record) sessionModel {
	m := sessionModel{
		ID:                       rec.ID,
		DeviceID:                 rec.DeviceID,
		PharmacyRating:           rec.PharmacyRating,
		EmployeeRatings:          datatypes.NewJSONType(nonNilRatings(rec.EmployeeRatings)),
		Suggestion:               rec.Suggestion,
		Status:                   string(rec.Status),
		StartedAt:                rec.StartedAt,
		LastActiveAt:             rec.LastActiveAt,
		CompletedAt:              rec.CompletedAt,
		InactivityTimeoutMinutes: rec.InactivityTimeoutMinutes,
	}
	if rec.ClientData != nil {
		m.HasClientData = true
		m.ClientConsent = rec.ClientData.Consent
		m.ClientData = datatypes.NewJSONType(*rec.ClientData)
	}
	return m
}

func (m sessionModel) toRecord() Record {
	rec := Record{
		ID:                       m.ID,
		DeviceID:                 m.DeviceID,
		PharmacyRating:           m.PharmacyRating,
		EmployeeRatings:          nonNilRatings(m.EmployeeRatings.Data()),
		Suggestion:               m.Suggestion,
		Status:                   Status(m.Status),
		StartedAt:                m.StartedAt,
		LastActiveAt:             m.LastActiveAt,
		CompletedAt:              m.CompletedAt,
		InactivityTimeoutMinutes: m.InactivityTimeoutMinutes,
	}
	if m.HasClientData {
		data := m.ClientData.Data()
		rec.ClientData = &data
	}
	return rec
}

func nonNilRatings(src []EmployeeRating) []EmployeeRating {
	if src == nil {
		return []EmployeeRating{}
	}
	return src
}

func datatypesRatings(r []EmployeeRating) datatypes.JSONType[[]EmployeeRating] {
	return datatypes.NewJSONType(nonNilRatings(r))
}

func datatypesClient(d ClientData) datatypes.JSONType[ClientData] {
	return datatypes.NewJSONType(d)
}
