package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyValidation(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("not-hex", "hunter2")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "hunter2")
	assert.Error(t, err)
}

func TestLoadKeyPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.json")
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	// Raw key wins over the encrypted file.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: path})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestRequestAuthRoundTrip(t *testing.T) {
	auth := &RequestAuth{Secret: "topsecret"}
	now := time.Unix(1_700_000_000, 0)

	headers := auth.HeadersAt("POST", "/v1/markets/close", `{"market_id":"0x01"}`, now.Unix())
	err := auth.Verify("POST", "/v1/markets/close", `{"market_id":"0x01"}`,
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.NoError(t, err)
}

func TestRequestAuthRejectsTampering(t *testing.T) {
	auth := &RequestAuth{Secret: "topsecret"}
	now := time.Unix(1_700_000_000, 0)
	headers := auth.HeadersAt("POST", "/v1/markets/close", "body", now.Unix())

	err := auth.Verify("POST", "/v1/markets/close", "other-body",
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.ErrorIs(t, err, ErrBadSignature)

	err = auth.Verify("POST", "/v1/markets/close", "body", "", "", now)
	assert.ErrorIs(t, err, ErrMissingSignature)

	other := &RequestAuth{Secret: "different"}
	err = other.Verify("POST", "/v1/markets/close", "body",
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRequestAuthRejectsStaleTimestamp(t *testing.T) {
	auth := &RequestAuth{Secret: "topsecret"}
	now := time.Unix(1_700_000_000, 0)
	headers := auth.HeadersAt("GET", "/v1/status", "", now.Unix())

	err := auth.Verify("GET", "/v1/status", "",
		headers[HeaderTimestamp], headers[HeaderSignature], now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// Within the configured skew the same request still verifies.
	wide := &RequestAuth{Secret: "topsecret", MaxSkew: 2 * time.Minute}
	err = wide.Verify("GET", "/v1/status", "",
		headers[HeaderTimestamp], headers[HeaderSignature], now.Add(time.Minute))
	assert.NoError(t, err)
}
