package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wavehq/wavechat/server/domain"
	"github.com/wavehq/wavechat/server/usecase"
)

// JWTIdentity verifies HMAC-signed bearer tokens and resolves the
// account behind them. The subject claim carries the account id.
type JWTIdentity struct {
	secret   []byte
	accounts usecase.Repository
}

func NewJWTIdentity(secret []byte, accounts usecase.Repository) *JWTIdentity {
	return &JWTIdentity{secret: secret, accounts: accounts}
}

var _ usecase.Identity = (*JWTIdentity)(nil)

func (i *JWTIdentity) Authenticate(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", domain.ErrTokenExpired
		}
		return "", domain.ErrInvalidToken
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", domain.ErrInvalidToken
	}
	return subject, nil
}

func (i *JWTIdentity) LookupAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return i.accounts.GetAccount(ctx, accountID)
}

// IssueToken mints a token for an account, used by tests and the local
// bootstrap flow.
func (i *JWTIdentity) IssueToken(accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
