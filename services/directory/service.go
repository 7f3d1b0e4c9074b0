package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"rxfeedback/pkg/db"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
	ErrConflict = errors.New("already exists")
)

// Service manages positions and employees.
type Service struct {
	db *gorm.DB
}

// New returns a Service backed by database.
func New(database *gorm.DB) (*Service, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	return &Service{db: database}, nil
}

// Migrate creates the directory tables for embedded and test databases.
func Migrate(ctx context.Context, database *gorm.DB) error {
	return database.WithContext(ctx).AutoMigrate(&positionModel{}, &employeeModel{})
}

func (s *Service) ListPositions(ctx context.Context) ([]Position, error) {
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, nil
}

func (s *Service) CreatePosition(ctx context.Context, name string) (Position, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Position{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := s.ensureUniquePosition(ctx, name, uuid.Nil); err != nil {
		return Position{}, err
	}
	model := positionModel{ID: uuid.New(), Name: name}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Position{}, err
	}
	return model.toAPI(), nil
}

func (s *Service) RenamePosition(ctx context.Context, id uuid.UUID, name string) (Position, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Position{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	orm := s.db.WithContext(ctx)

	var model positionModel
	if err := orm.First(&model, "id = ?", id).Error; err != nil {
		return Position{}, notFound("position", id, err)
	}
	if err := s.ensureUniquePosition(ctx, name, id); err != nil {
		return Position{}, err
	}
	model.Name = name
	if err := orm.Save(&model).Error; err != nil {
		return Position{}, err
	}
	return model.toAPI(), nil
}

// DeletePosition removes a position and detaches its employees.
func (s *Service) DeletePosition(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&employeeModel{}).Where("position_id = ?", id).Update("position_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&positionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *Service) ensureUniquePosition(ctx context.Context, name string, except uuid.UUID) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&positionModel{}).
		Where("LOWER(name) = LOWER(?) AND id <> ?", name, except).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("position %q: %w", name, ErrConflict)
	}
	return nil
}

// EmployeeInput carries writable employee fields. Nil pointers leave the
// current value untouched on update.
type EmployeeInput struct {
	FirstName  *string    `json:"firstName"`
	LastName   *string    `json:"lastName"`
	PositionID *uuid.UUID `json:"positionId"`
	PhotoURL   *string    `json:"photoUrl"`
	Active     *bool      `json:"active"`
}

// EmployeeFilter narrows employee listings.
type EmployeeFilter struct {
	ActiveOnly bool
	PositionID *uuid.UUID
}

var employeeSortColumns = map[string]string{
	"firstName": "first_name",
	"lastName":  "last_name",
	"createdAt": "created_at",
}

func (s *Service) ListEmployees(ctx context.Context, page db.Page, filter EmployeeFilter) ([]Employee, int64, error) {
	page = page.Normalize()
	q := s.db.WithContext(ctx).Model(&employeeModel{})
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if filter.PositionID != nil {
		q = q.Where("position_id = ?", *filter.PositionID)
	}
	if page.Search != "" {
		like := "%" + strings.ToLower(page.Search) + "%"
		q = q.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []employeeModel
	if err := q.Preload("Position").Scopes(page.Scope(employeeSortColumns, "last_name")).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]Employee, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out, total, nil
}

func (s *Service) GetEmployee(ctx context.Context, id uuid.UUID) (Employee, error) {
	var model employeeModel
	if err := s.db.WithContext(ctx).Preload("Position").First(&model, "id = ?", id).Error; err != nil {
		return Employee{}, notFound("employee", id, err)
	}
	return model.toAPI(), nil
}

func (s *Service) CreateEmployee(ctx context.Context, in EmployeeInput) (Employee, error) {
	model := employeeModel{ID: uuid.New(), Active: true}
	if err := s.apply(ctx, &model, in); err != nil {
		return Employee{}, err
	}
	if model.FirstName == "" || model.LastName == "" {
		return Employee{}, fmt.Errorf("%w: firstName and lastName are required", ErrInvalid)
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Employee{}, err
	}
	return s.GetEmployee(ctx, model.ID)
}

func (s *Service) UpdateEmployee(ctx context.Context, id uuid.UUID, in EmployeeInput) (Employee, error) {
	orm := s.db.WithContext(ctx)

	var model employeeModel
	if err := orm.First(&model, "id = ?", id).Error; err != nil {
		return Employee{}, notFound("employee", id, err)
	}
	if err := s.apply(ctx, &model, in); err != nil {
		return Employee{}, err
	}
	if model.FirstName == "" || model.LastName == "" {
		return Employee{}, fmt.Errorf("%w: firstName and lastName must not be empty", ErrInvalid)
	}
	if err := orm.Omit("Position").Save(&model).Error; err != nil {
		return Employee{}, err
	}
	return s.GetEmployee(ctx, id)
}

// DeleteEmployee soft deletes an employee; ratings referencing it are kept.
func (s *Service) DeleteEmployee(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&employeeModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("employee %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, model *employeeModel, in EmployeeInput) error {
	if in.FirstName != nil {
		model.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		model.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.PhotoURL != nil {
		model.PhotoURL = strings.TrimSpace(*in.PhotoURL)
	}
	if in.Active != nil {
		model.Active = *in.Active
	}
	if in.PositionID != nil {
		if *in.PositionID == uuid.Nil {
			model.PositionID = nil
			return nil
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(&positionModel{}).Where("id = ?", *in.PositionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: unknown position %s", ErrInvalid, *in.PositionID)
		}
		pid := *in.PositionID
		model.PositionID = &pid
	}
	return nil
}

// UnknownEmployees returns the ids that do not name an active employee.
func (s *Service) UnknownEmployees(ctx context.Context, ids []string) ([]string, error) {
	parsed := make([]uuid.UUID, 0, len(ids))
	var unknown []string
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			unknown = append(unknown, raw)
			continue
		}
		parsed = append(parsed, id)
	}
	if len(parsed) == 0 {
		return unknown, nil
	}

	var found []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&employeeModel{}).
		Where("id IN ? AND active = ?", parsed, true).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	known := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range parsed {
		if !known[id] {
			unknown = append(unknown, id.String())
		}
	}
	return unknown, nil
}

func notFound(kind string, id uuid.UUID, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}

// Names maps employee ids to "First Last", including deleted employees so past
// ratings keep their label.
func (s *Service) Names(ctx context.Context, ids []string) (map[string]string, error) {
	parsed := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		if id, err := uuid.Parse(raw); err == nil {
			parsed = append(parsed, id)
		}
	}
	out := make(map[string]string, len(parsed))
	if len(parsed) == 0 {
		return out, nil
	}

	var models []employeeModel
	if err := s.db.WithContext(ctx).Unscoped().Where("id IN ?", parsed).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ID.String()] = strings.TrimSpace(m.FirstName + " " + m.LastName)
	}
	return out, nil
}
