package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionLifetime is the default validity of both the signed token and the
// session cookie carrying it.
const SessionLifetime = 24 * time.Hour

// CodecConfig holds the process-wide signing parameters.
type CodecConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Token is a freshly issued bearer token.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// tokenClaims is the JWT payload: registered claims plus the serialized identity.
type tokenClaims struct {
	User string `json:"user"`
	jwt.RegisteredClaims
}

// Codec issues and verifies HS256 tokens. It is immutable after construction
// and safe for concurrent use.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates the configuration and builds a Codec.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	secret := strings.TrimSpace(cfg.Secret)
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	switch {
	case secret == "":
		return nil, fmt.Errorf("%w: signing secret", ErrMissingConfig)
	case issuer == "":
		return nil, fmt.Errorf("%w: issuer", ErrMissingConfig)
	case audience == "":
		return nil, fmt.Errorf("%w: audience", ErrMissingConfig)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = SessionLifetime
	}
	c := &Codec{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL reports the lifetime applied to issued tokens.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs a token for the identity.
func (c *Codec) Issue(ident Identity) (Token, error) {
	payload, err := ident.Encode()
	if err != nil {
		return Token{}, err
	}
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	id := uuid.NewString()
	claims := tokenClaims{
		User: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ID: id, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature, issuer, audience and expiry, and decodes the
// embedded identity. Every failure is reported as ErrInvalidToken.
func (c *Codec) Verify(token string) (Identity, error) {
	claims, err := c.parse(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	ident, err := DecodeIdentity(claims.User)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return ident, nil
}

// Claims runs the same verification as Verify and returns the flattened claim
// set without interpreting the user claim. An expired token therefore yields
// no claims at all.
func (c *Codec) Claims(token string) (ClaimSet, error) {
	claims, err := c.parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	set := ClaimSet{
		{Name: ClaimTokenID, Value: claims.ID},
		{Name: ClaimIssuer, Value: claims.Issuer},
	}
	for _, aud := range claims.Audience {
		set = append(set, Claim{Name: ClaimAudience, Value: aud})
	}
	if claims.ExpiresAt != nil {
		set = append(set, Claim{Name: ClaimExpiry, Value: strconv.FormatInt(claims.ExpiresAt.Unix(), 10)})
	}
	if claims.IssuedAt != nil {
		set = append(set, Claim{Name: ClaimIssuedAt, Value: strconv.FormatInt(claims.IssuedAt.Unix(), 10)})
	}
	if claims.User != "" {
		set = append(set, Claim{Name: ClaimUser, Value: claims.User})
	}
	return set, nil
}

func (c *Codec) parse(token string) (*tokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("empty token")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	parsed, err := parser.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
