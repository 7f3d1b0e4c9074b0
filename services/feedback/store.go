package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rxfeedback/pkg/db"
)

// Repository is the storage contract used by the Manager.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, ids []uuid.UUID) (int64, error)
	StaleCandidates(ctx context.Context, before time.Time, limit int) ([]Record, error)
	Abandon(ctx context.Context, id uuid.UUID, lastActiveAt time.Time) (bool, error)
}

// Store persists session records with gorm. Each mutation is a single UPDATE on
// one row.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store backed by the provided gorm handle.
func NewStore(database *gorm.DB) (*Store, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	return &Store{db: database}, nil
}

// Migrate creates the session table. Production schemas come from goose
// migrations; this is used for embedded and test databases.
func Migrate(ctx context.Context, database *gorm.DB) error {
	return database.WithContext(ctx).AutoMigrate(&sessionModel{})
}

func (s *Store) Create(ctx context.Context, rec Record) error {
	model := newSessionModel(rec)
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var model sessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, &NotFoundError{ID: id}
		}
		return Record{}, err
	}
	return model.toRecord(), nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	tx := s.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ?", id).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// Complete moves an active or abandoned record to completed. It reports false
// when no row transitioned, either because the id is unknown or because the
// record was already terminal.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ? AND status IN ?", id, []string{string(StatusActive), string(StatusAbandoned)}).
		Updates(map[string]any{
			"status":         string(StatusCompleted),
			"completed_at":   at,
			"last_active_at": at,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&sessionModel{}, "id = ?", id).Error
}

func (s *Store) MarkProcessed(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := s.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id IN ? AND status = ?", ids, string(StatusCompleted)).
		Update("status", string(StatusProcessed))
	return tx.RowsAffected, tx.Error
}

func (s *Store) StaleCandidates(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	var models []sessionModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND last_active_at < ?", string(StatusActive), before).
		Order("last_active_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

// Abandon flags an active record as abandoned unless it was touched after
// lastActiveAt.
func (s *Store) Abandon(ctx context.Context, id uuid.UUID, lastActiveAt time.Time) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ? AND status = ? AND last_active_at <= ?", id, string(StatusActive), lastActiveAt).
		Update("status", string(StatusAbandoned))
	return tx.RowsAffected > 0, tx.Error
}

// ListCompleted returns completed and processed records whose completion
// falls in [from, to).
func (s *Store) ListCompleted(ctx context.Context, from, to time.Time) ([]Record, error) {
	var models []sessionModel
	err := s.db.WithContext(ctx).
		Where("status IN ? AND completed_at >= ? AND completed_at < ?",
			[]string{string(StatusCompleted), string(StatusProcessed)}, from.UTC(), to.UTC()).
		Order("completed_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toRecords(models), nil
}

// ClientFilter narrows the clients listing.
type ClientFilter struct {
	ConsentOnly bool
}

var clientSortColumns = map[string]string{
	"startedAt":   "started_at",
	"completedAt": "completed_at",
}

// ListClients returns records that carry client contact data.
func (s *Store) ListClients(ctx context.Context, page db.Page, filter ClientFilter) ([]Record, int64, error) {
	q := s.db.WithContext(ctx).Model(&sessionModel{}).Where("has_client_data = ?", true)
	if filter.ConsentOnly {
		q = q.Where("client_consent = ?", true)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []sessionModel
	if err := q.Scopes(page.Scope(clientSortColumns, "started_at")).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return toRecords(models), total, nil
}

func toRecords(models []sessionModel) []Record {
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRecord())
	}
	return out
}
