// Package session owns citizen identities: the locally persisted user
// registry, password checks and the signed session token that replaces a
// persisted "current user".
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"civic-reporting/pkg/kvstore"
	"civic-reporting/pkg/models"
)

const usersKey = "cc:users"

var (
	ErrEmailExists     = fmt.Errorf("email already exists: %w", models.ErrAlreadyExists)
	ErrAccountNotFound = fmt.Errorf("account not found: %w", models.ErrNotFound)
	ErrBadCredentials  = fmt.Errorf("invalid email or password: %w", models.ErrUnauthorized)
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type account struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

// Registry stores registered users under a single key.
type Registry struct {
	kv   kvstore.Store
	now  func() time.Time
	cost int

	mu sync.Mutex
}

type RegistryOption func(*Registry)

// WithHashCost overrides the bcrypt cost, mostly for tests.
func WithHashCost(cost int) RegistryOption {
	return func(r *Registry) { r.cost = cost }
}

func NewRegistry(kv kvstore.Store, opts ...RegistryOption) *Registry {
	r := &Registry{kv: kv, now: time.Now, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validateRegistration(name, email, password string) error {
	var errs []models.FieldError
	if len(strings.TrimSpace(name)) < 2 {
		errs = append(errs, models.FieldError{Field: "name", Message: "Name must be at least 2 characters"})
	}
	if !emailRegex.MatchString(email) {
		errs = append(errs, models.FieldError{Field: "email", Message: "Invalid email format"})
	}
	if len(password) < 8 {
		errs = append(errs, models.FieldError{Field: "password", Message: "Password must be at least 8 characters"})
	} else if len(password) > 72 {
		errs = append(errs, models.FieldError{Field: "password", Message: "Password too long"})
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// Register adds a user. Emails are unique regardless of case.
func (r *Registry) Register(ctx context.Context, name, email, password string) (models.User, error) {
	email = strings.TrimSpace(email)
	if err := validateRegistration(name, email, password); err != nil {
		return models.User{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.load(ctx)
	if err != nil {
		return models.User{}, err
	}
	if _, ok := find(accounts, email); ok {
		return models.User{}, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	acc := account{
		User: models.User{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(name),
			Email:     email,
			CreatedAt: r.now().UTC(),
		},
		PasswordHash: string(hash),
	}
	if err := r.save(ctx, append(accounts, acc)); err != nil {
		return models.User{}, err
	}
	return acc.User, nil
}

// Login returns the user registered under email when password matches.
func (r *Registry) Login(ctx context.Context, email, password string) (models.User, error) {
	r.mu.Lock()
	accounts, err := r.load(ctx)
	r.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}

	acc, ok := find(accounts, strings.TrimSpace(email))
	if !ok {
		return models.User{}, ErrAccountNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrBadCredentials
	}
	return acc.User, nil
}

// Lookup returns the user with id.
func (r *Registry) Lookup(ctx context.Context, id string) (models.User, error) {
	r.mu.Lock()
	accounts, err := r.load(ctx)
	r.mu.Unlock()
	if err != nil {
		return models.User{}, err
	}
	for _, a := range accounts {
		if a.ID == id {
			return a.User, nil
		}
	}
	return models.User{}, ErrAccountNotFound
}

func find(accounts []account, email string) (account, bool) {
	for _, a := range accounts {
		if strings.EqualFold(a.Email, email) {
			return a, true
		}
	}
	return account{}, false
}

func (r *Registry) load(ctx context.Context) ([]account, error) {
	raw, ok, err := r.kv.Get(ctx, usersKey)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var accounts []account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return accounts, nil
}

func (r *Registry) save(ctx context.Context, accounts []account) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if err := r.kv.Set(ctx, usersKey, raw); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	return nil
}

// IsAuthError reports whether a Login error should be answered with 401.
// Unknown emails count too, so callers cannot probe for accounts.
func IsAuthError(err error) bool {
	return errors.Is(err, models.ErrUnauthorized) || errors.Is(err, ErrAccountNotFound)
}
