// Package rtc issues signed credentials for joining a realtime channel.
package rtc

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("rtc: signing secret is not configured")
	ErrInvalidToken  = errors.New("rtc: invalid token")
	ErrExpiredToken  = errors.New("rtc: token expired")
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Claims carries the channel grant. Identity travels as the subject.
type Claims struct {
	AppId   string `json:"app"`
	Channel string `json:"ch"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	appId  string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(appId, secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Issuer{appId: appId, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns an HS256 token for channel and its expiry.
func (i *Issuer) Issue(channel, identity string, role Role) (string, time.Time, error) {
	if len(i.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AppId:   i.appId,
		Channel: channel,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *Issuer) Verify(raw string) (Claims, error) {
	if len(i.secret) == 0 {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpiredToken
	case err != nil:
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
