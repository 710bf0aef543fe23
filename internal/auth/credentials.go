package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type newUserInput struct {
	Email       string  `json:"email" validate:"required,email,max=254"`
	Password    string  `json:"password" validate:"required,password"`
	FirstName   string  `json:"first_name" validate:"required,max=100"`
	LastName    string  `json:"last_name" validate:"required,max=100"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
}

type profileInput struct {
	FirstName   *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
}

type passwordInput struct {
	Password string `json:"new_password" validate:"required,password"`
}

// CredentialStore owns user records and password verification.
type CredentialStore struct {
	repo      UserRepository
	hasher    *PasswordHasher
	validator *Validator
	now       func() time.Time
}

func NewCredentialStore(repo UserRepository, hasher *PasswordHasher, validator *Validator) *CredentialStore {
	return &CredentialStore{
		repo:      repo,
		hasher:    hasher,
		validator: validator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrUserNotFound
	}
	return s.repo.FindByEmail(ctx, email)
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, ErrUserNotFound
	}
	return s.repo.FindByID(ctx, id)
}

func (s *CredentialStore) Create(ctx context.Context, input NewUser) (User, error) {
	input.Email = NormalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	if err := s.validator.Struct(newUserInput{
		Email:       input.Email,
		Password:    input.Password,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		PhoneNumber: input.PhoneNumber,
	}); err != nil {
		return User{}, err
	}

	_, err := s.repo.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		return User{}, ErrDuplicateEmail
	case !errors.Is(err, ErrUserNotFound):
		return User{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now()
	user := User{
		ID:           id.String(),
		Email:        input.Email,
		PasswordHash: hash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		PhoneNumber:  input.PhoneNumber,
		DateOfBirth:  input.DateOfBirth,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *CredentialStore) VerifyPassword(user User, plain string) bool {
	if user.PasswordHash == "" {
		s.hasher.CompareDummy(plain)
		return false
	}
	return s.hasher.Compare(user.PasswordHash, plain)
}

// UpdatePassword re-hashes and persists. Existing sessions stay valid.
func (s *CredentialStore) UpdatePassword(ctx context.Context, user User, plain string) error {
	if err := s.validator.Struct(passwordInput{Password: plain}); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, user.ID, hash, s.now())
}

func (s *CredentialStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (User, error) {
	update.FirstName = trimmedPtr(update.FirstName)
	update.LastName = trimmedPtr(update.LastName)
	update.PhoneNumber = trimmedPtr(update.PhoneNumber)

	if err := s.validator.Struct(profileInput{
		FirstName:   update.FirstName,
		LastName:    update.LastName,
		PhoneNumber: update.PhoneNumber,
	}); err != nil {
		return User{}, err
	}

	return s.repo.UpdateProfile(ctx, id, update, s.now())
}

// EnsureAdmin provisions the bootstrap administrator. Both values empty is a no-op.
func (s *CredentialStore) EnsureAdmin(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if err := s.validator.Email(email); err != nil {
		return fmt.Errorf("admin email: %w", err)
	}
	if !PasswordStrong(password) {
		return fmt.Errorf("admin password does not meet the password policy")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	return s.repo.UpsertAdmin(ctx, User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Admin",
		LastName:     "User",
		IsAdmin:      true,
		CreatedAt:    s.now(),
	})
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
