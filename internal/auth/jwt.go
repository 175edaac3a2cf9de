// Package auth verifies the bearer tokens issued by the platform's account
// service. Tokens are HS256 JWTs whose subject is the account id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// Principal is the caller a request acts for.
type Principal struct {
	AccountID string `json:"account_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// Claims is the token payload.
type Claims struct {
	IsAdmin bool `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

// ParsePrincipal verifies tokenString against secret and returns its
// principal. Only HMAC-signed tokens with a subject are accepted.
func ParsePrincipal(tokenString string, secret []byte) (Principal, error) {
	if len(secret) == 0 {
		return Principal{}, ErrMissingSecret
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	// Usage tickets share the signing secret but never authenticate a caller.
	if claims.VerifyAudience(ticketAudience, true) {
		return Principal{}, ErrInvalidToken
	}

	return Principal{AccountID: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

// SignToken creates a token for p that expires after ttl. Operators use it
// to mint tokens for local testing; production tokens come from the
// account service.
func SignToken(p Principal, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		IsAdmin: p.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ticketAudience marks tokens that authorize a usage report rather than a
// caller.
const ticketAudience = "pool-usage"

// ErrTicketMismatch is returned when a ticket was issued for another account
// or resource.
var ErrTicketMismatch = errors.New("usage ticket does not match request")

// TicketClaims is the payload of a usage ticket.
type TicketClaims struct {
	ResourceID string `json:"rid"`
	jwt.RegisteredClaims
}

// SignUsageTicket issues a ticket allowing accountID to report usage of
// resourceID until ttl elapses. Tickets are handed out by pool selection.
func SignUsageTicket(accountID string, resourceID uuid.UUID, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := TicketClaims{
		ResourceID: resourceID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyUsageTicket checks that ticket is valid and was issued to accountID
// for resourceID.
func VerifyUsageTicket(ticket, accountID string, resourceID uuid.UUID, secret []byte) error {
	if len(secret) == 0 {
		return ErrMissingSecret
	}

	claims := &TicketClaims{}
	token, err := jwt.ParseWithClaims(ticket, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.VerifyAudience(ticketAudience, true) {
		return ErrInvalidToken
	}
	if claims.Subject != accountID || claims.ResourceID != resourceID.String() {
		return ErrTicketMismatch
	}
	return nil
}
