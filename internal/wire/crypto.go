package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
)

// SessionKeyLen is the AES-256 session key size a client must supply.
const SessionKeyLen = 32

const (
	publicKeyFile  = "id_rsa.pub"
	privateKeyFile = "rsa_private_key.pem"
)

// ErrBadSessionKey indicates the RSA-wrapped bootstrap frame did not unwrap
// to a usable symmetric key.
var ErrBadSessionKey = errors.New("bad session key")

// KeyPair holds the server's long-lived RSA identity.
type KeyPair struct {
	priv *rsa.PrivateKey
}

// LoadKeyPair reads the server keypair from PEM files in dir, generating and
// saving a fresh 2048-bit pair when the files are missing or unreadable.
func LoadKeyPair(dir string) (*KeyPair, error) {
	privPath := filepath.Join(dir, privateKeyFile)
	if data, err := os.ReadFile(privPath); err == nil {
		if block, _ := pem.Decode(data); block != nil {
			if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return &KeyPair{priv: priv}, nil
			}
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	keyOut, err := os.OpenFile(privPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}); err != nil {
		_ = keyOut.Close()
		return nil, err
	}
	if err := keyOut.Close(); err != nil {
		return nil, err
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	pubOut, err := os.OpenFile(filepath.Join(dir, publicKeyFile), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := pem.Encode(pubOut, &pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}); err != nil {
		_ = pubOut.Close()
		return nil, err
	}
	if err := pubOut.Close(); err != nil {
		return nil, err
	}

	return &KeyPair{priv: priv}, nil
}

// PublicKeyPacket renders the public half as the unencrypted hello frame.
func (k *KeyPair) PublicKeyPacket() PublicKey {
	return PublicKey{
		N: k.priv.PublicKey.N.String(),
		E: k.priv.PublicKey.E,
	}
}

// UnwrapSessionKey recovers the symmetric session key from the client's
// RSA-OAEP bootstrap frame.
func (k *KeyPair) UnwrapSessionKey(wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSessionKey, err)
	}
	if len(key) != SessionKeyLen {
		return nil, fmt.Errorf("%w: %d-byte key", ErrBadSessionKey, len(key))
	}
	return key, nil
}

// WrapSessionKey performs the client half of the handshake: it encrypts a
// session key under a public key received as a PublicKey packet.
func WrapSessionKey(pub PublicKey, key []byte) ([]byte, error) {
	n, ok := new(big.Int).SetString(pub.N, 10)
	if !ok {
		return nil, fmt.Errorf("bad public key modulus")
	}
	rsaPub := &rsa.PublicKey{N: n, E: pub.E}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, key, nil)
}

// FrameCipher encrypts and decrypts whole frame payloads with AES-CFB.
// A fresh IV is generated per frame and prepended to the ciphertext.
type FrameCipher struct {
	block cipher.Block
}

// NewFrameCipher builds a frame cipher around a session key.
func NewFrameCipher(key []byte) (*FrameCipher, error) {
	if len(key) != SessionKeyLen {
		return nil, fmt.Errorf("%w: %d-byte key", ErrBadSessionKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &FrameCipher{block: block}, nil
}

// Encrypt seals a frame payload, returning iv || ciphertext.
func (c *FrameCipher) Encrypt(plain []byte) ([]byte, error) {
	out := make([]byte, aes.BlockSize+len(plain))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	cipher.NewCFBEncrypter(c.block, iv).XORKeyStream(out[aes.BlockSize:], plain)
	return out, nil
}

// Decrypt opens a sealed frame payload.
func (c *FrameCipher) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < aes.BlockSize {
		return nil, fmt.Errorf("sealed frame shorter than IV")
	}
	iv := sealed[:aes.BlockSize]
	plain := make([]byte, len(sealed)-aes.BlockSize)
	cipher.NewCFBDecrypter(c.block, iv).XORKeyStream(plain, sealed[aes.BlockSize:])
	return plain, nil
}
