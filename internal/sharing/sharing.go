// Package sharing issues and redeems expiring download links for files in
// a user's script folder. A link is a signed token embedding the owner id
// and filename; holders can fetch the file until the token expires.
package sharing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrLinkExpired means the token was valid but its lifetime has passed.
	ErrLinkExpired = errors.New("share link expired")
	// ErrLinkInvalid means the token is malformed, tampered with, or was
	// signed with a different secret.
	ErrLinkInvalid = errors.New("share link invalid")
)

// Claims is the payload carried by a share link token.
type Claims struct {
	OwnerID  int64  `json:"uid"`
	Filename string `json:"file"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies share link tokens with a single HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. ttl <= 0 defaults to 24 hours.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a link token for the given owner's file and returns the
// token along with its expiry time.
func (i *Issuer) Issue(ownerID int64, filename string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)

	claims := Claims{
		OwnerID:  ownerID,
		Filename: filename,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing share token: %w", err)
	}
	return token, expires, nil
}

// Redeem verifies a link token and returns its claims.
func (i *Issuer) Redeem(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLinkExpired
		}
		return nil, ErrLinkInvalid
	}
	if claims.Filename == "" || claims.OwnerID == 0 {
		return nil, ErrLinkInvalid
	}
	return &claims, nil
}
