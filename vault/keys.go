package vault

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

const keyBits = 2048

// GenerateKey produces the session key pair. Key generation has no state:
// on failure nothing is persisted and the caller simply re-issues.
func GenerateKey() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return priv, nil
}

// EncodePublicKeyPEM renders the public half as SPKI PEM, the format the
// exporting client expects to encrypt against.
func EncodePublicKeyPEM(priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", fmt.Errorf("nil private key")
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Decrypt opens an RSA-OAEP-SHA256 ciphertext. Base64 input is tolerated
// because exporting clients commonly transport the blob as text.
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("nil private key")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	raw := ciphertext
	if decoded, err := base64.StdEncoding.DecodeString(string(ciphertext)); err == nil {
		raw = decoded
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	return plain, nil
}

// Encrypt is the inverse of Decrypt. Production clients encrypt on their
// own machines; this exists for tests and local tooling.
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("nil public key")
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}
	return out, nil
}

// ParsePublicKeyPEM loads a SPKI PEM public key, for clients and tests.
func ParsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}
