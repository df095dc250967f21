package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/veloprint/gateway/pkg/errors"
)

func TestStateIssueAndVerify(t *testing.T) {
	m := NewStateManager("test-signing-material")

	state, err := m.Issue("sess-1", "/orders/new")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	returnPath, err := m.Verify(state, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "/orders/new", returnPath)
}

func TestStateVerifyFailures(t *testing.T) {
	m := NewStateManager("test-signing-material")
	state, err := m.Issue("sess-1", "")
	require.NoError(t, err)

	tests := []struct {
		name      string
		state     string
		sessionID string
	}{
		{"empty state", "", "sess-1"},
		{"garbage state", "not-a-jwt", "sess-1"},
		{"different session", state, "sess-2"},
		{"tampered payload", state[:len(state)-4] + "AAAA", "sess-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.state, tt.sessionID)
			require.Error(t, err)
			assert.Equal(t, gwerrors.CodeStateMismatch, gwerrors.CodeOf(err))
		})
	}
}

func TestStateWrongKeyRejected(t *testing.T) {
	issuer := NewStateManager("key-one")
	verifier := NewStateManager("key-two")

	state, err := issuer.Issue("sess-1", "")
	require.NoError(t, err)

	_, err = verifier.Verify(state, "sess-1")
	assert.Equal(t, gwerrors.CodeStateMismatch, gwerrors.CodeOf(err))
}

func TestStateExpires(t *testing.T) {
	m := NewStateManager("test-signing-material")
	m.ttl = -time.Second

	state, err := m.Issue("sess-1", "")
	require.NoError(t, err)

	_, err = m.Verify(state, "sess-1")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeStateMismatch, gwerrors.CodeOf(err))
}

func TestStatesAreSingleUseDistinct(t *testing.T) {
	m := NewStateManager("test-signing-material")

	a, err := m.Issue("sess-1", "")
	require.NoError(t, err)
	b, err := m.Issue("sess-1", "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "each login attempt gets a fresh nonce")
}
