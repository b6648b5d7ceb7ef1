// Package authn implements the authentication surface spec.md §6 requires
// (`/auth/register`, `/auth/verify`, `/auth/login`) and pkg/api's bearer-
// token middleware.
//
// The teacher's production deployment runs behind an oauth2-proxy sidecar
// (pkg/api/auth.go simply reads X-Forwarded-User/X-Forwarded-Email
// headers), which has no registration/login flow of its own to ground
// this package on. Session token issuance instead follows the
// sign-a-claims-struct pattern github.com/golang-jwt/jwt/v5 exists to
// serve; password hashing follows golang.org/x/crypto/bcrypt, already a
// transitive dependency of the teacher (via testcontainers-go) promoted
// here to a direct one.
package authn

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/triadwork/triad/pkg/errs"
)

// Account is a registered user.
type Account struct {
	Email        string
	PasswordHash string
	Verified     bool
	VerifyCode   string
	CreatedAt    time.Time
}

// Store is the persistence contract pkg/authn needs. sessionstore.Postgres
// implements it against an `accounts` table, parallel to its session
// tables but deliberately kept separate (spec.md treats identity as a
// distinct concern from session orchestration).
type Store interface {
	CreateAccount(ctx context.Context, acct Account) error
	GetAccount(ctx context.Context, email string) (*Account, error)
	MarkVerified(ctx context.Context, email string) error
}

// Mailer delivers the verification code to a registering user. spec.md §6
// treats email delivery as an external collaborator gated by environment
// credentials. ConsoleMailer is the only implementation in this module;
// there is no SMTP-backed Mailer and no configuration option that selects
// one.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// ConsoleMailer logs the verification code instead of sending real email.
// cmd/triad-server always wires this mailer.
type ConsoleMailer struct {
	Logger *slog.Logger
}

// SendVerificationCode logs the code at info level.
func (m ConsoleMailer) SendVerificationCode(_ context.Context, email, code string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("verification code (console mailer, no SMTP configured)", "email", email, "code", code)
	return nil
}

// Config configures the Service.
type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// Service implements registration, email verification, login, and bearer
// token verification.
type Service struct {
	store  Store
	mailer Mailer
	cfg    Config
	logger *slog.Logger
}

// New constructs a Service.
func New(store Store, mailer Mailer, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{store: store, mailer: mailer, cfg: cfg, logger: logger}
}

// Register creates an unverified account and emails (or logs) a
// verification code.
func (s *Service) Register(ctx context.Context, email, password string) error {
	if email == "" {
		return errs.NewValidationError("email", "required")
	}
	if len(password) < 8 {
		return errs.NewValidationError("password", "must be at least 8 characters")
	}
	if _, err := s.store.GetAccount(ctx, email); err == nil {
		return errs.ErrAlreadyExists
	} else if err != errs.ErrNotFound {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}

	if err := s.store.CreateAccount(ctx, Account{
		Email:        email,
		PasswordHash: string(hash),
		Verified:     false,
		VerifyCode:   code,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := s.mailer.SendVerificationCode(ctx, email, code); err != nil {
		s.logger.Warn("failed to send verification email", "email", email, "error", err)
	}
	return nil
}

// Verify marks an account verified if code matches the stored code.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return err
	}
	if acct.Verified {
		return nil
	}
	if code == "" || code != acct.VerifyCode {
		return errs.NewValidationError("code", "invalid verification code")
	}
	return s.store.MarkVerified(ctx, email)
}

// Login validates credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acct, err := s.store.GetAccount(ctx, email)
	if err != nil {
		if err == errs.ErrNotFound {
			return "", errs.ErrUnauthorized
		}
		return "", err
	}
	if !acct.Verified {
		return "", errs.NewValidationError("email", "account not verified")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", errs.ErrUnauthorized
	}
	return s.issueToken(acct.Email)
}

type claims struct {
	jwt.RegisteredClaims
}

func (s *Service) issueToken(email string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// VerifyToken parses and validates a bearer token, returning the owning
// account's email (used as the Session.Owner value throughout the rest of
// the orchestrator core).
func (s *Service) VerifyToken(tokenString string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", errs.ErrUnauthorized
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return "", errs.ErrUnauthorized
	}
	return c.Subject, nil
}

func generateCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:8], nil
}
