package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACHeadersAreDeterministic(t *testing.T) {
	auth := &HMACAuth{ClientID: "client-1", Secret: "s3cret", Network: "testnet"}

	h1 := auth.HeadersAt("POST", "/rpc", `{"a":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/rpc", `{"a":1}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "client-1", h1[HeaderClientID])
	assert.Equal(t, "1700000000", h1[HeaderTimestamp])
	assert.Equal(t, "testnet", h1[HeaderNetwork])

	assert.True(t, auth.Verify("1700000000", "POST", "/rpc", `{"a":1}`, h1[HeaderSignature]))
	assert.False(t, auth.Verify("1700000000", "POST", "/rpc", `{"a":2}`, h1[HeaderSignature]))

	other := auth.HeadersAt("POST", "/rpc", `{"a":1}`, 1700000001)
	assert.NotEqual(t, h1[HeaderSignature], other[HeaderSignature])
}

func TestHMACStringRedactsSecret(t *testing.T) {
	auth := &HMACAuth{ClientID: "client-1", Secret: "supersecret"}
	assert.NotContains(t, auth.String(), "supersecret")
	assert.Contains(t, auth.String(), "supe****")
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("gateway-secret", "pw")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "gateway-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptSecret("x", "")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "plain", EncryptedPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
