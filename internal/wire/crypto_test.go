package wire

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}

	// A second load must reuse the saved PEM files rather than regenerate.
	again, err := LoadKeyPair(dir)
	if err != nil {
		t.Fatalf("LoadKeyPair (reload): %v", err)
	}
	if keys.PublicKeyPacket() != again.PublicKeyPacket() {
		t.Fatal("reload produced a different keypair")
	}

	sessionKey := make([]byte, SessionKeyLen)
	if _, err := rand.Read(sessionKey); err != nil {
		t.Fatalf("rand: %v", err)
	}

	wrapped, err := WrapSessionKey(keys.PublicKeyPacket(), sessionKey)
	if err != nil {
		t.Fatalf("WrapSessionKey: %v", err)
	}
	unwrapped, err := keys.UnwrapSessionKey(wrapped)
	if err != nil {
		t.Fatalf("UnwrapSessionKey: %v", err)
	}
	if !bytes.Equal(unwrapped, sessionKey) {
		t.Fatal("session key did not survive the handshake")
	}
}

func TestFrameCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{7}, SessionKeyLen)
	c, err := NewFrameCipher(key)
	if err != nil {
		t.Fatalf("NewFrameCipher: %v", err)
	}

	plain := []byte(`{"a":"Chat","p":["hello"]}`)
	first, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions of the same frame produced identical ciphertext; IV is not fresh")
	}

	for _, sealed := range [][]byte{first, second} {
		got, err := c.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("Decrypt = %q, want %q", got, plain)
		}
	}
}

func TestFrameCipherRejectsShortKey(t *testing.T) {
	if _, err := NewFrameCipher([]byte("short")); err == nil {
		t.Fatal("NewFrameCipher accepted a short key")
	}
}

func TestDecryptRejectsTruncatedFrame(t *testing.T) {
	c, err := NewFrameCipher(bytes.Repeat([]byte{1}, SessionKeyLen))
	if err != nil {
		t.Fatalf("NewFrameCipher: %v", err)
	}
	if _, err := c.Decrypt([]byte("tiny")); err == nil {
		t.Fatal("Decrypt accepted a frame shorter than the IV")
	}
}
