package auth

import (
	"context"
	"errors"
	"strings"
)

// Service ties credential checks to token issuance.
type Service struct {
	directory Directory
	codec     *Codec
}

// NewService constructs a Service over the given directory and codec.
func NewService(directory Directory, codec *Codec) (*Service, error) {
	if directory == nil {
		return nil, errors.New("auth: directory is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	return &Service{directory: directory, codec: codec}, nil
}

// Codec exposes the token codec used by the service.
func (s *Service) Codec() *Codec { return s.codec }

// Login verifies the credentials and issues a token for the resolved identity.
// Unknown accounts, disabled accounts and wrong passwords all yield
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Token, Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		burnPasswordCheck(password)
		return Token{}, Identity{}, ErrInvalidCredentials
	}
	user, err := s.directory.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return Token{}, Identity{}, ErrInvalidCredentials
		}
		return Token{}, Identity{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Token{}, Identity{}, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return Token{}, Identity{}, ErrInvalidCredentials
	}
	ident, err := s.directory.ResolveIdentity(ctx, user.ID)
	if err != nil {
		return Token{}, Identity{}, err
	}
	tok, err := s.codec.Issue(ident)
	if err != nil {
		return Token{}, Identity{}, err
	}
	return tok, ident, nil
}
