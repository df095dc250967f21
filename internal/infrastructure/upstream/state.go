package upstream

import (
	"crypto/sha256"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/errors"
	"github.com/veloprint/gateway/pkg/utils"
)

// StateManager signs and verifies the OAuth state parameter. The state is a
// short-lived HMAC JWT binding the login attempt to the caller's session, so
// a forged or replayed callback fails closed without server-side state.
type StateManager struct {
	key []byte
	ttl time.Duration
}

// NewStateManager derives the signing key from the configured material.
func NewStateManager(keyMaterial string) *StateManager {
	sum := sha256.Sum256([]byte(keyMaterial))
	return &StateManager{
		key: sum[:],
		ttl: constants.StateTokenTTL,
	}
}

type stateClaims struct {
	SessionID  string `json:"sid"`
	ReturnPath string `json:"rp,omitempty"`
	jwt.RegisteredClaims
}

// Issue mints a signed state bound to the session that started the login.
// returnPath rides along so the callback can land the browser where the
// flow began.
func (m *StateManager) Issue(sessionID, returnPath string) (string, error) {
	nonce, err := utils.RandomToken(16)
	if err != nil {
		return "", errors.ErrServer("minting state nonce: " + err.Error())
	}

	now := time.Now()
	claims := stateClaims{
		SessionID:  sessionID,
		ReturnPath: returnPath,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", errors.ErrServer("signing state: " + err.Error())
	}
	return signed, nil
}

// Verify checks signature, expiry, and the session binding, returning the
// return path the state was minted with. Every failure mode collapses into a
// single state-mismatch error.
func (m *StateManager) Verify(state, sessionID string) (string, error) {
	if state == "" {
		return "", errors.ErrStateMismatch("missing state parameter")
	}

	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrStateMismatch("unexpected signing method")
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.ErrStateMismatch("state failed verification")
	}
	if claims.SessionID != sessionID {
		return "", errors.ErrStateMismatch("state belongs to a different session")
	}
	return claims.ReturnPath, nil
}
