package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medconnect/medconnect/internal/platform/apperr"
)

const minPasswordLength = 8

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Issue(userID uuid.UUID, role string) (string, error)
}

type Service struct {
	users      UserRepository
	tokens     TokenIssuer
	bcryptCost int
}

func NewService(users UserRepository, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, bcryptCost: bcrypt.DefaultCost}
}

// Register creates an account and signs the caller in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	switch {
	case in.Name == "" || in.Email == "" || in.Password == "" || in.Role == "":
		return nil, apperr.Validation("name, email, password and role are required")
	case !in.Role.Valid():
		return nil, apperr.Validation("role must be one of doctor, admin, nurse, patient")
	case len(in.Password) < minPasswordLength:
		return nil, apperr.Validation("password must be at least 8 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, apperr.Validation("email is invalid")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperr.Validation("password is too long")
		}
		return nil, apperr.Storage(err)
	}

	u := &User{Name: in.Name, Email: in.Email, Role: in.Role, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return s.signIn(u)
}

// Login verifies credentials. Unknown email and wrong password are reported
// identically.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if in.Email == "" || in.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Authentication("invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, apperr.Authentication("invalid credentials")
	}
	return s.signIn(u)
}

func (s *Service) signIn(u *User) (*AuthResult, error) {
	token, err := s.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return &AuthResult{User: u, Token: token}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// Exists reports whether id names a user. It backs token verification.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.users.Exists(ctx, id)
}

// Contacts lists users the caller can start a conversation with.
func (s *Service) Contacts(ctx context.Context, caller uuid.UUID, role Role, limit, offset int) ([]*User, int, error) {
	if role != "" && !role.Valid() {
		return nil, 0, apperr.Validation("unknown role")
	}
	return s.users.List(ctx, role, caller, limit, offset)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
