package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultCookieName = "rxfeedback_session"
	defaultIssuer     = "rxfeedback"
	defaultTTL        = 12 * time.Hour
	minPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("admin already exists")
	ErrInvalid            = errors.New("invalid admin")
	ErrNotFound           = errors.New("admin not found")
)

// Admin is an operator allowed to use the admin API.
type Admin struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type adminModel struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Email        string     `gorm:"type:text;uniqueIndex;not null"`
	Name         string     `gorm:"type:text;not null"`
	PasswordHash string     `gorm:"type:text;not null"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	LastLoginAt  *time.Time
}

func (adminModel) TableName() string { return "admin_users" }

func (m adminModel) toAPI() Admin {
	return Admin{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt, LastLoginAt: m.LastLoginAt}
}

// Config controls token signing and the session cookie.
type Config struct {
	SigningKey   []byte
	Issuer       string
	TTL          time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
	Hash         HashParams
	Clock        func() time.Time
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service authenticates admins and issues HS256 session tokens.
type Service struct {
	db  *gorm.DB
	cfg Config
}

func New(database *gorm.DB, cfg Config) (*Service, error) {
	if database == nil {
		return nil, errors.New("database is required")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Hash == (HashParams{}) {
		cfg.Hash = DefaultHashParams
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{db: database, cfg: cfg}, nil
}

// Migrate creates the admin table for embedded and test databases.
func Migrate(ctx context.Context, database *gorm.DB) error {
	return database.WithContext(ctx).AutoMigrate(&adminModel{})
}

// CreateAdmin registers a new admin with a hashed password.
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (Admin, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if !strings.Contains(email, "@") {
		return Admin{}, fmt.Errorf("%w: email is required", ErrInvalid)
	}
	if len(password) < minPasswordLength {
		return Admin{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, minPasswordLength)
	}
	if name == "" {
		name = email
	}

	orm := s.db.WithContext(ctx)
	var count int64
	if err := orm.Model(&adminModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return Admin{}, err
	}
	if count > 0 {
		return Admin{}, ErrConflict
	}

	hash, err := HashPassword(password, s.cfg.Hash)
	if err != nil {
		return Admin{}, err
	}
	model := adminModel{ID: uuid.New(), Email: email, Name: name, PasswordHash: hash}
	if err := orm.Create(&model).Error; err != nil {
		return Admin{}, err
	}
	return model.toAPI(), nil
}

// Login verifies credentials and returns a signed token with its expiry.
func (s *Service) Login(ctx context.Context, email, password string) (Admin, string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	orm := s.db.WithContext(ctx)

	var model adminModel
	if err := orm.First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Admin{}, "", time.Time{}, ErrInvalidCredentials
		}
		return Admin{}, "", time.Time{}, err
	}
	ok, err := VerifyPassword(password, model.PasswordHash)
	if err != nil {
		return Admin{}, "", time.Time{}, err
	}
	if !ok {
		return Admin{}, "", time.Time{}, ErrInvalidCredentials
	}

	now := s.cfg.Clock().UTC()
	token, expires, err := s.sign(model, now)
	if err != nil {
		return Admin{}, "", time.Time{}, err
	}
	loginAt := now.Truncate(time.Microsecond)
	if err := orm.Model(&adminModel{}).Where("id = ?", model.ID).Update("last_login_at", loginAt).Error; err != nil {
		return Admin{}, "", time.Time{}, err
	}
	model.LastLoginAt = &loginAt
	return model.toAPI(), token, expires, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Admin, error) {
	var model adminModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Admin{}, ErrNotFound
		}
		return Admin{}, err
	}
	return model.toAPI(), nil
}

func (s *Service) sign(model adminModel, now time.Time) (string, time.Time, error) {
	expires := now.Add(s.cfg.TTL)
	c := claims{
		Email: model.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   model.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify parses a token and returns the admin id it was issued for.
func (s *Service) Verify(token string) (uuid.UUID, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %T", t.Method)
		}
		return s.cfg.SigningKey, nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.cfg.Clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrUnauthorized
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrUnauthorized
	}
	return id, nil
}

// SetCookie stores token in the HttpOnly session cookie.
func (s *Service) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) tokenFrom(r *http.Request) string {
	if raw := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[len("Bearer "):])
	}
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid session token and stores the
// admin id in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.tokenFrom(r)
		if token == "" {
			unauthorized(w)
			return
		}
		id, err := s.Verify(token)
		if err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAdminID(r.Context(), id)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrUnauthorized.Error()})
}

type adminKey struct{}

func WithAdminID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, adminKey{}, id)
}

// AdminIDFrom returns the authenticated admin id set by Middleware.
func AdminIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(adminKey{}).(uuid.UUID)
	return id, ok
}
