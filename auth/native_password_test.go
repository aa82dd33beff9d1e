package auth

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativePasswordEmptyPassword(t *testing.T) {
	assert.Empty(t, NativePassword("", []byte("whatever-scramble-bytes")))
}

func TestNativePasswordMatchesReferenceFormula(t *testing.T) {
	password := "s3cr3t"
	scramble := []byte("01234567890123456789")

	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])
	h := sha1.New()
	h.Write(scramble)
	h.Write(stage2[:])
	want := h.Sum(nil)
	for i := range want {
		want[i] ^= stage1[i]
	}

	got := NativePassword(password, scramble)
	assert.Equal(t, want, got)
}

func TestComputeAuthResponseUnsupportedPlugin(t *testing.T) {
	_, err := ComputeAuthResponse("sha256_password", "x", nil)
	require.Error(t, err)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, authErr.Fatal())
}

func TestComputeAuthResponseClearPassword(t *testing.T) {
	got, err := ComputeAuthResponse(ClearPasswordPlugin, "hunter2", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), got)
}
