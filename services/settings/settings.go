package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const documentKey = "feedback"

var ErrInvalid = errors.New("invalid settings")

// Settings controls which steps the kiosk shows and how long sessions live.
// The pharmacy page is always shown.
type Settings struct {
	PharmacyPageEnabled   bool      `json:"pharmacyPageEnabled" yaml:"-"`
	EmployeePageEnabled   bool      `json:"employeePageEnabled" yaml:"employeePageEnabled"`
	ClientPageEnabled     bool      `json:"clientPageEnabled" yaml:"clientPageEnabled"`
	SuggestionPageEnabled bool      `json:"suggestionPageEnabled" yaml:"suggestionPageEnabled"`
	ThankYouEnabled       bool      `json:"thankYouEnabled" yaml:"thankYouEnabled"`
	KioskMode             bool      `json:"kioskMode" yaml:"kioskMode"`
	KioskTimeoutMinutes   int       `json:"kioskTimeoutMinutes" yaml:"kioskTimeoutMinutes"`
	SessionTimeoutMinutes int       `json:"sessionTimeoutMinutes" yaml:"sessionTimeoutMinutes"`
	ReportRecipients      []string  `json:"reportRecipients" yaml:"reportRecipients"`
	UpdatedAt             time.Time `json:"updatedAt" yaml:"-"`
}

// Public is the subset served to kiosks without authentication.
type Public struct {
	PharmacyPageEnabled      bool `json:"pharmacyPageEnabled"`
	EmployeePageEnabled      bool `json:"employeePageEnabled"`
	ClientPageEnabled        bool `json:"clientPageEnabled"`
	SuggestionPageEnabled    bool `json:"suggestionPageEnabled"`
	ThankYouEnabled          bool `json:"thankYouEnabled"`
	KioskMode                bool `json:"kioskMode"`
	InactivityTimeoutMinutes int  `json:"inactivityTimeoutMinutes"`
}

// Patch updates the fields that are set.
type Patch struct {
	EmployeePageEnabled   *bool     `json:"employeePageEnabled"`
	ClientPageEnabled     *bool     `json:"clientPageEnabled"`
	SuggestionPageEnabled *bool     `json:"suggestionPageEnabled"`
	ThankYouEnabled       *bool     `json:"thankYouEnabled"`
	KioskMode             *bool     `json:"kioskMode"`
	KioskTimeoutMinutes   *int      `json:"kioskTimeoutMinutes"`
	SessionTimeoutMinutes *int      `json:"sessionTimeoutMinutes"`
	ReportRecipients      *[]string `json:"reportRecipients"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		PharmacyPageEnabled:   true,
		EmployeePageEnabled:   true,
		ClientPageEnabled:     true,
		SuggestionPageEnabled: true,
		ThankYouEnabled:       true,
		KioskTimeoutMinutes:   3,
		SessionTimeoutMinutes: 1440,
		ReportRecipients:      []string{},
	}
}

// LoadFile overlays the YAML document at path onto base. Keys missing from the
// file keep their base value.
func LoadFile(path string, base Settings) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	out.PharmacyPageEnabled = true
	if err := out.validate(); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func (s Settings) validate() error {
	if s.KioskTimeoutMinutes <= 0 {
		return fmt.Errorf("%w: kioskTimeoutMinutes must be positive", ErrInvalid)
	}
	if s.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("%w: sessionTimeoutMinutes must be positive", ErrInvalid)
	}
	for _, r := range s.ReportRecipients {
		if !strings.Contains(r, "@") {
			return fmt.Errorf("%w: report recipient %q is not an email address", ErrInvalid, r)
		}
	}
	return nil
}

// InactivityTimeout is the idle limit new sessions get.
func (s Settings) InactivityTimeout() int {
	if s.KioskMode {
		return s.KioskTimeoutMinutes
	}
	return s.SessionTimeoutMinutes
}

func (s Settings) Public() Public {
	return Public{
		PharmacyPageEnabled:      true,
		EmployeePageEnabled:      s.EmployeePageEnabled,
		ClientPageEnabled:        s.ClientPageEnabled,
		SuggestionPageEnabled:    s.SuggestionPageEnabled,
		ThankYouEnabled:          s.ThankYouEnabled,
		KioskMode:                s.KioskMode,
		InactivityTimeoutMinutes: s.InactivityTimeout(),
	}
}

type settingModel struct {
	Key                   string                       `gorm:"type:text;primaryKey"`
	EmployeePageEnabled   bool                         `gorm:"not null"`
	ClientPageEnabled     bool                         `gorm:"not null"`
	SuggestionPageEnabled bool                         `gorm:"not null"`
	ThankYouEnabled       bool                         `gorm:"not null"`
	KioskMode             bool                         `gorm:"not null"`
	KioskTimeoutMinutes   int                          `gorm:"not null"`
	SessionTimeoutMinutes int                          `gorm:"not null"`
	ReportRecipients      datatypes.JSONType[[]string] `gorm:"not null"`
	UpdatedAt             time.Time                    `gorm:"autoUpdateTime"`
}

func (settingModel) TableName() string { return "settings" }

func newSettingModel(s Settings) settingModel {
	recipients := s.ReportRecipients
	if recipients == nil {
		recipients = []string{}
	}
	return settingModel{
		Key:                   documentKey,
		EmployeePageEnabled:   s.EmployeePageEnabled,
		ClientPageEnabled:     s.ClientPageEnabled,
		SuggestionPageEnabled: s.SuggestionPageEnabled,
		ThankYouEnabled:       s.ThankYouEnabled,
		KioskMode:             s.KioskMode,
		KioskTimeoutMinutes:   s.KioskTimeoutMinutes,
		SessionTimeoutMinutes: s.SessionTimeoutMinutes,
		ReportRecipients:      datatypes.NewJSONType(recipients),
		UpdatedAt:             s.UpdatedAt,
	}
}

func (m settingModel) toAPI() Settings {
	recipients := m.ReportRecipients.Data()
	if recipients == nil {
		recipients = []string{}
	}
	return Settings{
		PharmacyPageEnabled:   true,
		EmployeePageEnabled:   m.EmployeePageEnabled,
		ClientPageEnabled:     m.ClientPageEnabled,
		SuggestionPageEnabled: m.SuggestionPageEnabled,
		ThankYouEnabled:       m.ThankYouEnabled,
		KioskMode:             m.KioskMode,
		KioskTimeoutMinutes:   m.KioskTimeoutMinutes,
		SessionTimeoutMinutes: m.SessionTimeoutMinutes,
		ReportRecipients:      recipients,
		UpdatedAt:             m.UpdatedAt,
	}
}

// Service stores the single settings document.
type Service struct {
	db       *gorm.DB
	defaults Settings
}

// New returns a Service. defaults seed the document the first time it is read.
func New(database *gorm.DB, defaults Settings) (*Service, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	if err := defaults.validate(); err != nil {
		return nil, err
	}
	defaults.PharmacyPageEnabled = true
	return &Service{db: database, defaults: defaults}, nil
}

// Migrate creates the settings table for embedded and test databases.
func Migrate(ctx context.Context, database *gorm.DB) error {
	return database.WithContext(ctx).AutoMigrate(&settingModel{})
}

// Get returns the stored settings, seeding the defaults when none exist.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	orm := s.db.WithContext(ctx)

	var model settingModel
	err := orm.Where(&settingModel{Key: documentKey}).First(&model).Error
	if err == nil {
		return model.toAPI(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Settings{}, err
	}

	model = newSettingModel(s.defaults)
	if err := orm.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return Settings{}, err
	}
	if err := orm.Where(&settingModel{Key: documentKey}).First(&model).Error; err != nil {
		return Settings{}, err
	}
	return model.toAPI(), nil
}

// Update applies patch and returns the resulting settings.
func (s *Service) Update(ctx context.Context, patch Patch) (Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}

	next := current
	if patch.EmployeePageEnabled != nil {
		next.EmployeePageEnabled = *patch.EmployeePageEnabled
	}
	if patch.ClientPageEnabled != nil {
		next.ClientPageEnabled = *patch.ClientPageEnabled
	}
	if patch.SuggestionPageEnabled != nil {
		next.SuggestionPageEnabled = *patch.SuggestionPageEnabled
	}
	if patch.ThankYouEnabled != nil {
		next.ThankYouEnabled = *patch.ThankYouEnabled
	}
	if patch.KioskMode != nil {
		next.KioskMode = *patch.KioskMode
	}
	if patch.KioskTimeoutMinutes != nil {
		next.KioskTimeoutMinutes = *patch.KioskTimeoutMinutes
	}
	if patch.SessionTimeoutMinutes != nil {
		next.SessionTimeoutMinutes = *patch.SessionTimeoutMinutes
	}
	if patch.ReportRecipients != nil {
		cleaned := make([]string, 0, len(*patch.ReportRecipients))
		for _, r := range *patch.ReportRecipients {
			if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
				cleaned = append(cleaned, r)
			}
		}
		next.ReportRecipients = cleaned
	}
	if err := next.validate(); err != nil {
		return Settings{}, err
	}

	model := newSettingModel(next)
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		return Settings{}, err
	}
	return model.toAPI(), nil
}

// InactivityTimeout returns the idle limit for a session created now.
func (s *Service) InactivityTimeout(ctx context.Context) (int, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return current.InactivityTimeout(), nil
}

// ReportRecipients returns who is notified when a report is built.
func (s *Service) ReportRecipients(ctx context.Context) ([]string, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	return current.ReportRecipients, nil
}
