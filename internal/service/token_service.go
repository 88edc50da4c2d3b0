package service

import (
	"errors"
	"fmt"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// actorClaims is the bearer token minted by the identity service: the
// subject is the vendor or staff ID, role picks the route group.
type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService with HS256. Generate exists
// for tooling and tests; production tokens come from the identity service.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	parser *jwt.Parser
}

func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Generate signs a token for subject acting as role.
func (s *JWTTokenService) Generate(subject uuid.UUID, role domain.ActorType) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.expiry)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, actorClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks signature, issuer and expiry, then maps the claims to an
// actor. The system and gateway roles are never accepted from a token.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	var claims actorClaims
	if _, err := s.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject in token: %w", err)
	}

	role := domain.ActorType(claims.Role)
	switch role {
	case domain.ActorVendor, domain.ActorAdmin, domain.ActorFinance:
	case "":
		return nil, errors.New("missing role claim")
	default:
		return nil, fmt.Errorf("unsupported role %q", claims.Role)
	}

	return &ports.TokenClaims{Subject: subject, Role: role}, nil
}
