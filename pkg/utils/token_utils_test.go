package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestClientIdentifier(t *testing.T) {
	base := ClientIdentifier("10.0.0.1", "mozilla", "sess-1")

	assert.Equal(t, base, ClientIdentifier("10.0.0.1", "mozilla", "sess-1"))
	assert.NotEqual(t, base, ClientIdentifier("10.0.0.2", "mozilla", "sess-1"))
	assert.NotEqual(t, base, ClientIdentifier("10.0.0.1", "mozilla", "sess-2"))
	assert.Len(t, base, 32)

	// only the first 64 bytes of the user agent participate
	long := strings.Repeat("x", 64)
	assert.Equal(t,
		ClientIdentifier("10.0.0.1", long, "sess-1"),
		ClientIdentifier("10.0.0.1", long+"tail", "sess-1"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", MaskSecret(""))
	assert.Equal(t, "***", MaskSecret("short"))
	assert.Equal(t, "abcd***wxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
}
