package projects

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateInviteToken_AndValidateFormatAndHash(t *testing.T) {
	token, hash, err := GenerateInviteToken()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(token, InviteTokenPrefix))
	require.True(t, ValidateInviteTokenFormat(token))
	require.Len(t, hash, sha256.Size)
	require.Equal(t, HashInviteToken(token), hash)
}

func TestValidateInviteTokenFormat_InvalidPrefix(t *testing.T) {
	require.False(t, ValidateInviteTokenFormat("nope_abc"))
}

func TestValidateInviteTokenFormat_TruncatedToken(t *testing.T) {
	token, _, err := GenerateInviteToken()
	require.NoError(t, err)
	require.False(t, ValidateInviteTokenFormat(token[:len(token)-4]))
}
