package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"rxfeedback/pkg/db"
	"rxfeedback/services/feedback"
)

const ReportReadySubject = "feedback.reports.ready"

var (
	ErrNotFound = errors.New("report not found")
	ErrNoExport = errors.New("report has no stored export")
)

// Source lists completed sessions by completion time.
type Source interface {
	ListCompleted(ctx context.Context, from, to time.Time) ([]feedback.Record, error)
}

// Marker moves reported sessions to processed.
type Marker interface {
	MarkProcessed(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Namer resolves employee ids to display names.
type Namer interface {
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

// ObjectStore keeps report archives.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type Renderer interface {
	Render(name string, data any) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// RecipientSource lists who is told about new reports.
type RecipientSource interface {
	ReportRecipients(ctx context.Context) ([]string, error)
}

// Report is a stored monthly aggregate.
type Report struct {
	ID                uuid.UUID      `json:"id"`
	PeriodStart       time.Time      `json:"periodStart"`
	PeriodEnd         time.Time      `json:"periodEnd"`
	Sessions          int            `json:"sessions"`
	AvgPharmacyRating float64        `json:"avgPharmacyRating"`
	Employees         []EmployeeStat `json:"employees"`
	Suggestions       int            `json:"suggestions"`
	ConsentedClients  int            `json:"consentedClients"`
	ObjectKey         string         `json:"objectKey,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`

	// Set only on the report returned by Build.
	Processed int64  `json:"processed,omitempty"`
	Text      string `json:"text,omitempty"`
}

type reportModel struct {
	ID                uuid.UUID                          `gorm:"type:uuid;primaryKey"`
	PeriodStart       time.Time                          `gorm:"not null;index"`
	PeriodEnd         time.Time                          `gorm:"not null"`
	Sessions          int                                `gorm:"not null"`
	AvgPharmacyRating float64                            `gorm:"not null"`
	Employees         datatypes.JSONType[[]EmployeeStat] `gorm:"not null"`
	Suggestions       int                                `gorm:"not null"`
	ConsentedClients  int                                `gorm:"not null"`
	ObjectKey         string                             `gorm:"type:text"`
	CreatedAt         time.Time                          `gorm:"autoCreateTime"`
}

func (reportModel) TableName() string { return "reports" }

func (m reportModel) toAPI() Report {
	employees := m.Employees.Data()
	if employees == nil {
		employees = []EmployeeStat{}
	}
	return Report{
		ID:                m.ID,
		PeriodStart:       m.PeriodStart,
		PeriodEnd:         m.PeriodEnd,
		Sessions:          m.Sessions,
		AvgPharmacyRating: m.AvgPharmacyRating,
		Employees:         employees,
		Suggestions:       m.Suggestions,
		ConsentedClients:  m.ConsentedClients,
		ObjectKey:         m.ObjectKey,
		CreatedAt:         m.CreatedAt,
	}
}

// Config holds the optional collaborators of the Service.
type Config struct {
	Bucket     string
	Objects    ObjectStore
	Events     Publisher
	Names      Namer
	Recipients RecipientSource
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Service builds, stores and serves monthly reports.
type Service struct {
	db       *gorm.DB
	source   Source
	marker   Marker
	renderer Renderer
	cfg      Config
	log      zerolog.Logger
}

func New(database *gorm.DB, source Source, marker Marker, renderer Renderer, cfg Config) (*Service, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	if source == nil || marker == nil {
		return nil, errors.New("session source and marker are required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		db:       database,
		source:   source,
		marker:   marker,
		renderer: renderer,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "reports").Logger(),
	}, nil
}

// Migrate creates the reports table for embedded and test databases.
func Migrate(ctx context.Context, database *gorm.DB) error {
	return database.WithContext(ctx).AutoMigrate(&reportModel{})
}

type readyNotice struct {
	Summary     Summary
	DownloadURL string
	Recipients  []string
}

// Build aggregates the sessions completed in period, stores the report and
// marks the sessions processed. Building a period again replaces its report.
func (s *Service) Build(ctx context.Context, period Period) (Report, error) {
	records, err := s.source.ListCompleted(ctx, period.Start, period.End)
	if err != nil {
		return Report{}, fmt.Errorf("list completed sessions: %w", err)
	}

	names := s.employeeNames(ctx, records)
	summary := Summarize(period, records, names)
	text, err := s.renderer.Render("report_summary.tmpl", summary)
	if err != nil {
		return Report{}, fmt.Errorf("render summary: %w", err)
	}

	now := s.cfg.Clock().UTC()
	objectKey, err := s.upload(ctx, period, summary, text, records, names, now)
	if err != nil {
		return Report{}, err
	}

	model, err := s.save(ctx, period, summary, objectKey)
	if err != nil {
		return Report{}, fmt.Errorf("save report: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		if rec.Status == feedback.StatusCompleted {
			ids = append(ids, rec.ID)
		}
	}
	processed, err := s.marker.MarkProcessed(ctx, ids)
	if err != nil {
		return Report{}, fmt.Errorf("mark processed: %w", err)
	}

	report := model.toAPI()
	report.Processed = processed
	report.Text = text
	s.notify(ctx, report, summary)

	s.log.Info().
		Str("period", period.String()).
		Int("sessions", summary.Sessions).
		Int64("processed", processed).
		Str("object_key", objectKey).
		Msg("report built")
	return report, nil
}

func (s *Service) employeeNames(ctx context.Context, records []feedback.Record) map[string]string {
	if s.cfg.Names == nil {
		return map[string]string{}
	}
	seen := map[string]bool{}
	var ids []string
	for _, rec := range records {
		for _, er := range rec.EmployeeRatings {
			if !seen[er.EmployeeID] {
				seen[er.EmployeeID] = true
				ids = append(ids, er.EmployeeID)
			}
		}
	}
	names, err := s.cfg.Names.Names(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Msg("resolve employee names")
		return map[string]string{}
	}
	return names
}

func (s *Service) upload(ctx context.Context, period Period, summary Summary, text string, records []feedback.Record, names map[string]string, now time.Time) (string, error) {
	if s.cfg.Objects == nil || s.cfg.Bucket == "" {
		return "", nil
	}
	archive, err := BuildArchive(summary, text, records, names, now)
	if err != nil {
		return "", fmt.Errorf("build archive: %w", err)
	}
	key := fmt.Sprintf("reports/%s/feedback-%s.tar.zst", period, now.Format("20060102T150405Z"))
	if err := s.cfg.Objects.PutObject(ctx, s.cfg.Bucket, key, archiveContentType, archive); err != nil {
		return "", fmt.Errorf("upload archive: %w", err)
	}
	return key, nil
}

func (s *Service) save(ctx context.Context, period Period, summary Summary, objectKey string) (reportModel, error) {
	var model reportModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("period_start = ?", period.Start).First(&model).Error
		created := false
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			model = reportModel{ID: uuid.New()}
			created = true
		case err != nil:
			return err
		}
		model.PeriodStart = period.Start
		model.PeriodEnd = period.End
		model.Sessions = summary.Sessions
		model.AvgPharmacyRating = summary.AvgPharmacyRating
		model.Employees = datatypes.NewJSONType(summary.Employees)
		model.Suggestions = summary.Suggestions
		model.ConsentedClients = summary.ConsentedClients
		model.ObjectKey = objectKey
		if created {
			return tx.Create(&model).Error
		}
		return tx.Save(&model).Error
	})
	return model, err
}

func (s *Service) notify(ctx context.Context, report Report, summary Summary) {
	if s.cfg.Events == nil {
		return
	}
	notice := readyNotice{Summary: summary}
	if s.cfg.Recipients != nil {
		recipients, err := s.cfg.Recipients.ReportRecipients(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("load report recipients")
		}
		notice.Recipients = recipients
	}
	if report.ObjectKey != "" {
		if url, err := s.cfg.Objects.PresignGet(ctx, s.cfg.Bucket, report.ObjectKey, 7*24*time.Hour); err == nil {
			notice.DownloadURL = url
		} else {
			s.log.Warn().Err(err).Msg("presign report download")
		}
	}
	body, err := s.renderer.Render("report_ready.tmpl", notice)
	if err != nil {
		s.log.Warn().Err(err).Msg("render report notice")
		return
	}

	payload := map[string]any{
		"report_id":  report.ID,
		"period":     summary.PeriodStart.Format("2006-01"),
		"sessions":   report.Sessions,
		"object_key": report.ObjectKey,
		"recipients": notice.Recipients,
		"body":       body,
	}
	if err := s.cfg.Events.Publish(ctx, ReportReadySubject, payload); err != nil {
		s.log.Warn().Err(err).Str("subject", ReportReadySubject).Msg("publish event")
	}
}

var reportSortColumns = map[string]string{
	"periodStart": "period_start",
	"createdAt":   "created_at",
	"sessions":    "sessions",
}

func (s *Service) List(ctx context.Context, page db.Page) ([]Report, int64, error) {
	if page.Sort == "" {
		page.Sort, page.Desc = "periodStart", true
	}
	q := s.db.WithContext(ctx).Model(&reportModel{}).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []reportModel
	if err := q.Scopes(page.Scope(reportSortColumns, "period_start")).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]Report, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, total, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	var model reportModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Report{}, ErrNotFound
		}
		return Report{}, err
	}
	return model.toAPI(), nil
}

// DownloadURL presigns the stored archive of report id.
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID, ttl time.Duration) (string, error) {
	report, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if report.ObjectKey == "" || s.cfg.Objects == nil {
		return "", ErrNoExport
	}
	return s.cfg.Objects.PresignGet(ctx, s.cfg.Bucket, report.ObjectKey, ttl)
}
