// Package qr signs and verifies table-session tokens. The codec is pure:
// secret lookup and qr_version comparison belong to the session service.
package qr

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// TokenTTL matches the default lifetime of a printed QR code. Revocation is
// done by bumping the table's qr_version, not by waiting out the expiry.
const TokenTTL = 365 * 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	ResellerID *uuid.UUID `json:"resellerId,omitempty"`
	VenueID    uuid.UUID  `json:"venueId"`
	BranchID   uuid.UUID  `json:"branchId"`
	TableID    uuid.UUID  `json:"tableId"`
	Version    int        `json:"version"`
	jwt.RegisteredClaims
}

type Codec struct {
	ttl time.Duration
}

func NewCodec() *Codec {
	return &Codec{ttl: TokenTTL}
}

func (c *Codec) Issue(secret string, claims Claims) (string, error) {
	const op = "qr.Codec.Issue"

	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		Subject:   claims.TableID.String(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	s, err := t.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return s, nil
}

// Verify checks the signature and expiry and returns the decoded claims.
// Any failure comes back as ErrInvalidToken; the caller branches on it,
// nothing is ever raised past this boundary.
func (c *Codec) Verify(token, secret string) (*Claims, error) {
	const op = "qr.Codec.Verify"

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return claims, nil
}

// Decode extracts claims without verifying the signature. Used only to learn
// which venue's secret to verify with; never trust the result on its own.
func (c *Codec) Decode(token string) (*Claims, error) {
	const op = "qr.Codec.Decode"

	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &claims, nil
}
