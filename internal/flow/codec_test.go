package flow

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) (*Codec, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	material := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	codec, err := NewCodec(material)
	require.NoError(t, err)
	return codec, key
}

// seal builds an envelope the way the client does: random AES session key
// wrapped with RSA-OAEP, payload sealed with AES-GCM under sealIV.
func seal(t *testing.T, pub *rsa.PublicKey, payload, aesKey, wireIV, sealIV []byte) EncryptedRequest {
	t.Helper()

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	ciphertext := gcm.Seal(nil, sealIV, payload, nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	require.NoError(t, err)

	return EncryptedRequest{
		EncryptedFlowData: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedAESKey:   base64.StdEncoding.EncodeToString(wrapped),
		InitialVector:     base64.StdEncoding.EncodeToString(wireIV),
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestDecryptPlainIV(t *testing.T) {
	codec, key := newTestCodec(t)

	payload := []byte(`{"action":"ping"}`)
	aesKey := randomBytes(t, 16)
	iv := randomBytes(t, 12)

	envelope := seal(t, &key.PublicKey, payload, aesKey, iv, iv)

	decrypted, err := codec.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, payload, decrypted.Payload)
	assert.False(t, decrypted.IVFlipped)
}

func TestDecryptFlippedIVClient(t *testing.T) {
	codec, key := newTestCodec(t)

	payload := []byte(`{"action":"data_exchange","screen":"BVN"}`)
	aesKey := randomBytes(t, 16)
	iv := randomBytes(t, 12)

	// client sealed under the inverted IV but sent the plain IV on the wire
	envelope := seal(t, &key.PublicKey, payload, aesKey, iv, FlipIV(iv))

	decrypted, err := codec.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, payload, decrypted.Payload)
	assert.True(t, decrypted.IVFlipped)
}

func TestResponseAlwaysUnderFlippedIV(t *testing.T) {
	codec, key := newTestCodec(t)

	aesKey := randomBytes(t, 16)
	iv := randomBytes(t, 12)

	request := seal(t, &key.PublicKey, []byte(`{"action":"ping"}`), aesKey, iv, iv)
	decrypted, err := codec.Decrypt(request)
	require.NoError(t, err)

	responseJSON, err := json.Marshal(Response{Data: map[string]interface{}{"status": "active"}})
	require.NoError(t, err)

	encoded, err := codec.Encrypt(responseJSON, decrypted.AESKey, decrypted.IV)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	// only the flipped IV opens the response
	_, err = gcm.Open(nil, iv, raw, nil)
	assert.Error(t, err)

	opened, err := gcm.Open(nil, FlipIV(iv), raw, nil)
	require.NoError(t, err)
	assert.Equal(t, responseJSON, opened)
}

func TestAESVariantsByKeyLength(t *testing.T) {
	codec, key := newTestCodec(t)

	for _, size := range []int{16, 24, 32} {
		aesKey := randomBytes(t, size)
		iv := randomBytes(t, 12)
		payload := []byte(`{"action":"ping"}`)

		envelope := seal(t, &key.PublicKey, payload, aesKey, iv, iv)
		decrypted, err := codec.Decrypt(envelope)
		require.NoError(t, err, "key size %d", size)
		assert.Equal(t, payload, decrypted.Payload)
	}
}

func TestURLSafeBase64Accepted(t *testing.T) {
	codec, key := newTestCodec(t)

	payload := []byte(`{"action":"ping"}`)
	aesKey := randomBytes(t, 16)
	iv := randomBytes(t, 12)

	envelope := seal(t, &key.PublicKey, payload, aesKey, iv, iv)

	toURLSafe := func(s string) string {
		decoded, err := base64.StdEncoding.DecodeString(s)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(decoded)
	}
	envelope.EncryptedFlowData = toURLSafe(envelope.EncryptedFlowData)
	envelope.EncryptedAESKey = toURLSafe(envelope.EncryptedAESKey)
	envelope.InitialVector = toURLSafe(envelope.InitialVector)

	decrypted, err := codec.Decrypt(envelope)
	require.NoError(t, err)
	assert.Equal(t, payload, decrypted.Payload)
}

func TestParseRawDERKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	_, err = NewCodec(base64.StdEncoding.EncodeToString(der))
	require.NoError(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	codec, _ := newTestCodec(t)

	_, err := codec.Decrypt(EncryptedRequest{
		EncryptedFlowData: "not base64!!!",
		EncryptedAESKey:   "also not",
		InitialVector:     "nope",
	})
	assert.Error(t, err)
}
