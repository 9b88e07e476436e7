package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/inbound"
	"github.com/zengyi-thinking/Agent-team-dashboard/domain/port/outbound"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrHandshakeDisabled = errors.New("handshake disabled: no token secret configured")
)

const tokenIssuer = "agent-team-dashboard"

type handshakeService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger outbound.Logger
}

// NewHandshakeService returns a service that is disabled when secret is empty
func NewHandshakeService(secret string, ttl time.Duration, logger outbound.Logger) inbound.HandshakeService {
	return &handshakeService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

func (s *handshakeService) Enabled() bool {
	return len(s.secret) > 0
}

func (s *handshakeService) MintToken(subject string) (string, error) {
	if !s.Enabled() {
		return "", ErrHandshakeDisabled
	}

	issuedAt := s.now().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:   tokenIssuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(issuedAt),
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *handshakeService) ValidateToken(tokenString string) (string, error) {
	if !s.Enabled() {
		return "", ErrHandshakeDisabled
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		s.logger.Debug("Rejected handshake token", "error", err)
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
