package services

import (
	"errors"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService issues and checks the tokens peers present to the relay. The
// token subject is the peer id.
type AuthService interface {
	GenerateToken(peerID domain.PeerID, room string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	Room string `json:"room,omitempty"`
	jwt.RegisteredClaims
}

// PeerID returns the identity carried in the subject.
func (c *Claims) PeerID() domain.PeerID {
	return domain.PeerID(c.Subject)
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) GenerateToken(peerID domain.PeerID, room string) (string, error) {
	if err := validation.ValidatePeerID(string(peerID)); err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(peerID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if validation.ValidatePeerID(claims.Subject) != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
