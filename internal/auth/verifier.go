package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every rejection of a presented token. Other errors
// returned by Subject mean the secret could not be loaded.
var ErrInvalidToken = errors.New("auth: invalid token")

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type secretPayload struct {
	Token string `json:"token"`
}

// Verifier checks HS256 bearer tokens and returns their subject.
type Verifier struct {
	getter      Getter
	paramPrefix string
	now         func() time.Time

	mu     sync.RWMutex
	secret []byte
}

type Option func(*Verifier)

// WithSecret uses a fixed signing secret instead of the parameter store.
func WithSecret(secret string) Option {
	return func(v *Verifier) {
		if secret = strings.TrimSpace(secret); secret != "" {
			v.secret = []byte(secret)
		}
	}
}

func NewVerifier(g Getter, paramPrefix string, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		getter:      g,
		paramPrefix: strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if len(v.secret) > 0 {
		return v, nil
	}
	if g == nil {
		return nil, errors.New("auth: paramstore getter must not be nil")
	}
	if v.paramPrefix == "" {
		return nil, errors.New("auth: parameter prefix must not be empty")
	}
	return v, nil
}

// Subject verifies tokenString and returns its "sub" claim.
func (v *Verifier) Subject(ctx context.Context, tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	key, err := v.signingKey(ctx)
	if err != nil {
		return "", err
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for subject that expires after ttl. It is used by the
// development server to mint local credentials.
func (v *Verifier) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: subject must not be empty")
	}
	key, err := v.signingKey(ctx)
	if err != nil {
		return "", err
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// signingKey loads the secret on first use. A failed load is retried on the
// next call.
func (v *Verifier) signingKey(ctx context.Context) ([]byte, error) {
	v.mu.RLock()
	if len(v.secret) > 0 {
		defer v.mu.RUnlock()
		return v.secret, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.secret) > 0 {
		return v.secret, nil
	}
	secret, err := fetchSecret(ctx, v.getter, v.paramPrefix+"/jwt-secret")
	if err != nil {
		return nil, err
	}
	v.secret = []byte(secret)
	return v.secret, nil
}

func fetchSecret(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("auth: fetch jwt secret from paramstore: %w", err)
	}
	var p secretPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("auth: unmarshal jwt secret as JSON: %w", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		return "", errors.New("auth: jwt secret is empty")
	}
	return p.Token, nil
}
