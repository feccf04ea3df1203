package room

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

const seatTokenIssuer = "cardtable"

// ErrInvalidToken is returned for seat tokens that fail verification
var ErrInvalidToken = errors.New("invalid seat token")

// SeatClaims identifies the seat a token was issued for
type SeatClaims struct {
	RoomCode string
	PlayerID string
}

// TokenIssuer signs and verifies HS256 seat tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. An empty secret is replaced by a random
// one, so tokens do not survive a restart.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the seat
func (ti *TokenIssuer) Issue(roomCode, playerID string) (string, error) {
	now := ti.now()
	claims := jwt.MapClaims{
		"iss":  seatTokenIssuer,
		"sub":  playerID,
		"room": roomCode,
		"iat":  now.Unix(),
		"exp":  now.Add(ti.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Verify checks the signature and expiry and returns the seat
func (ti *TokenIssuer) Verify(tokenString string) (*SeatClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if iss, _ := claims["iss"].(string); iss != seatTokenIssuer {
		return nil, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	room, _ := claims["room"].(string)
	player, _ := claims["sub"].(string)
	if room == "" || player == "" {
		return nil, fmt.Errorf("%w: missing seat claims", ErrInvalidToken)
	}
	return &SeatClaims{RoomCode: room, PlayerID: player}, nil
}
