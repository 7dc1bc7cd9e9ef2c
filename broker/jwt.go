package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential attached to every broker
// request. Most practice accounts use a long-lived static API key; some
// venues issue short-lived signed tokens that need periodic refresh.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource over a fixed API key.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

// JWTRefresher mints a new signed JWT whenever the previously issued one is
// within refreshBefore of expiring, avoiding a request landing on an
// already-expired credential.
type JWTRefresher struct {
	signingKey    []byte
	issuer        string
	subject       string
	ttl           time.Duration
	refreshBefore time.Duration

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewJWTRefresher builds a refresher that signs HS256 tokens valid for ttl,
// refreshing refreshBefore ahead of expiry.
func NewJWTRefresher(signingKey []byte, issuer, subject string, ttl, refreshBefore time.Duration) *JWTRefresher {
	return &JWTRefresher{
		signingKey:    signingKey,
		issuer:        issuer,
		subject:       subject,
		ttl:           ttl,
		refreshBefore: refreshBefore,
	}
}

func (j *JWTRefresher) Token() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cached != "" && time.Until(j.expiresAt) > j.refreshBefore {
		return j.cached, nil
	}

	now := time.Now().UTC()
	expiresAt := now.Add(j.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   j.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", fmt.Errorf("broker: sign token: %w", err)
	}

	j.cached = signed
	j.expiresAt = expiresAt
	return signed, nil
}
