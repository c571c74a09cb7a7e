// Package auth issues and verifies the per-player session tokens handed out on
// join. A token binds a player id to a room code; transports require it on
// every room-scoped call so a client cannot act for another seat.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/turingden/find-the-ai/internal/v1/types"
)

// ErrInvalidToken covers every verification failure; callers get no detail.
var ErrInvalidToken = errors.New("invalid session token")

// Claims are the signed contents of a session token.
type Claims struct {
	RoomCode string `json:"room"`
	PlayerID string `json:"player"`
	jwt.RegisteredClaims
}

// Sessions mints and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions builds a token authority. ttl bounds how long a session stays
// usable; rooms rarely outlive an hour.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

// Mint issues a token for one seat in one room.
func (s *Sessions) Mint(room types.RoomCode, player types.PlayerID) (string, error) {
	now := time.Now()
	claims := Claims{
		RoomCode: string(room),
		PlayerID: string(player),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   string(player),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks the signature, algorithm, and expiry.
func (s *Sessions) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.RoomCode == "" || claims.PlayerID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyFor additionally pins the token to a specific room.
func (s *Sessions) VerifyFor(tokenString string, room types.RoomCode) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.RoomCode != string(room) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
