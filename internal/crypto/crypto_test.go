package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key (hardhat account #0).
const (
	testKey  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(testKey, "")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = EncryptKey("0x1234", "pw")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], k)

	blob, err := EncryptKey(testKey, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	k, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey[2:], k)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKeySource)
}

func TestSignerMessageRoundTrip(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	assert.Equal(t, testAddr, s.Address().Hex())

	msg := []byte("confirm purchase deal 7 token 42")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)

	addr, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr)

	other, err := RecoverAddress([]byte("something else"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, testAddr, other)

	_, err = RecoverAddress(msg, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRequestSigner(t *testing.T) {
	rs := &RequestSigner{Secret: []byte("s3cret"), MaxSkew: time.Minute}
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"network":"testnet"}`)

	h := rs.Headers("POST", "/api/sync", body, now.Unix())
	require.NoError(t, rs.Verify("POST", "/api/sync", body, h[HeaderTimestamp], h[HeaderSignature], now))

	err := rs.Verify("POST", "/api/sync", []byte(`{}`), h[HeaderTimestamp], h[HeaderSignature], now)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	err = rs.Verify("POST", "/api/sync", body, h[HeaderTimestamp], h[HeaderSignature], now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrSignatureExpired)

	assert.NotContains(t, rs.String(), "s3cret")
}
