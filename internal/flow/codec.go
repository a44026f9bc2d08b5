package flow

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// EncryptedRequest is the wire shape of an encrypted flow request.
type EncryptedRequest struct {
	EncryptedFlowData string `json:"encrypted_flow_data"`
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
}

// IsEncrypted reports whether all three envelope fields are present.
// Unencrypted POSTs are platform health checks.
func (r EncryptedRequest) IsEncrypted() bool {
	return r.EncryptedFlowData != "" && r.EncryptedAESKey != "" && r.InitialVector != ""
}

// Codec decrypts flow requests and encrypts responses. The session key is
// RSA-OAEP/SHA-256 wrapped; the payload is AES-GCM with the variant chosen by
// key length. Some client builds send the IV bitwise-inverted, so decryption
// falls back to the flipped IV; the response is ALWAYS encrypted under the
// flipped IV, whichever decrypt path worked.
type Codec struct {
	privateKey *rsa.PrivateKey
}

func NewCodec(keyMaterial string) (*Codec, error) {
	key, err := parsePrivateKey(keyMaterial)
	if err != nil {
		return nil, err
	}
	return &Codec{privateKey: key}, nil
}

// parsePrivateKey tolerates PEM with mangled line endings as well as raw
// base64 DER PKCS#8 (the compact "MII..." form some secret stores produce).
func parsePrivateKey(material string) (*rsa.PrivateKey, error) {
	material = strings.TrimSpace(material)
	material = strings.ReplaceAll(material, "\r\n", "\n")
	material = strings.ReplaceAll(material, `\n`, "\n")

	var der []byte
	if block, _ := pem.Decode([]byte(material)); block != nil {
		der = block.Bytes
	} else if strings.HasPrefix(material, "MII") {
		decoded, err := decodeBase64(material)
		if err != nil {
			return nil, fmt.Errorf("private key is neither PEM nor base64 DER: %w", err)
		}
		der = decoded
	} else {
		return nil, errors.New("private key is neither PEM nor base64 DER")
	}

	if parsed, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

// decodeBase64 accepts both standard and URL-safe alphabets and normalises
// missing padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(s)
}

// FlipIV returns the IV with every byte XORed with 0xFF.
func FlipIV(iv []byte) []byte {
	flipped := make([]byte, len(iv))
	for i, b := range iv {
		flipped[i] = b ^ 0xFF
	}
	return flipped
}

// DecryptedRequest carries everything needed to answer: the plaintext and the
// session key + IV the response must be encrypted under.
type DecryptedRequest struct {
	Payload []byte
	AESKey  []byte
	IV      []byte // as received, not flipped
	IVFlipped bool  // which decrypt path succeeded
}

func (c *Codec) Decrypt(req EncryptedRequest) (*DecryptedRequest, error) {
	data, err := decodeBase64(req.EncryptedFlowData)
	if err != nil {
		return nil, fmt.Errorf("bad encrypted_flow_data: %w", err)
	}
	wrappedKey, err := decodeBase64(req.EncryptedAESKey)
	if err != nil {
		return nil, fmt.Errorf("bad encrypted_aes_key: %w", err)
	}
	iv, err := decodeBase64(req.InitialVector)
	if err != nil {
		return nil, fmt.Errorf("bad initial_vector: %w", err)
	}

	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("session key unwrap failed: %w", err)
	}

	gcm, err := newGCM(aesKey, len(iv))
	if err != nil {
		return nil, err
	}

	// ciphertext proper plus 16-byte tag, exactly what gcm.Open expects
	payload, err := gcm.Open(nil, iv, data, nil)
	if err == nil {
		return &DecryptedRequest{Payload: payload, AESKey: aesKey, IV: iv}, nil
	}

	payload, flipErr := gcm.Open(nil, FlipIV(iv), data, nil)
	if flipErr != nil {
		return nil, fmt.Errorf("payload decryption failed with both IV variants: %w", err)
	}
	return &DecryptedRequest{Payload: payload, AESKey: aesKey, IV: iv, IVFlipped: true}, nil
}

func (c *Codec) Encrypt(payload []byte, aesKey, receivedIV []byte) (string, error) {
	gcm, err := newGCM(aesKey, len(receivedIV))
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, FlipIV(receivedIV), payload, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func newGCM(key []byte, ivLen int) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported AES key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if ivLen == 12 {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, ivLen)
}
