package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
)

// Keypair is the treasury signing identity. The public key doubles as the
// treasury wallet address in its base58 form.
type Keypair struct {
	priv ed25519.PrivateKey
}

// ParseKeypair accepts the two key formats in circulation: a JSON array of
// 64 secret-key bytes (the wallet CLI export format) or a base58-encoded
// secret key string.
func ParseKeypair(raw string) (*Keypair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty keypair")
	}

	var secret []byte
	if strings.HasPrefix(raw, "[") {
		var bytes []byte
		if err := json.Unmarshal([]byte(raw), &bytes); err != nil {
			return nil, fmt.Errorf("parse JSON keypair: %w", err)
		}
		secret = bytes
	} else {
		decoded, err := base58.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode base58 keypair: %w", err)
		}
		secret = decoded
	}

	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair has %d bytes, want %d", len(secret), ed25519.PrivateKeySize)
	}
	return &Keypair{priv: ed25519.PrivateKey(secret)}, nil
}

// LoadKeypairFile reads and parses a keypair file in either format.
func LoadKeypairFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	return ParseKeypair(string(data))
}

// Address returns the base58-encoded public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.priv.Public().(ed25519.PublicKey))
}

// Sign returns the base58-encoded detached ed25519 signature of msg.
func (k *Keypair) Sign(msg []byte) string {
	return base58.Encode(ed25519.Sign(k.priv, msg))
}

// VerifySignature checks a base58 detached signature against a base58
// public key. Used by the signature-verification middleware.
func VerifySignature(pubKeyB58, signatureB58 string, msg []byte) (bool, error) {
	pub, err := base58.Decode(pubKeyB58)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("public key has %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	sig, err := base58.Decode(signatureB58)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

// ValidWalletAddress reports whether addr is a base58 string decoding to a
// 32-byte public key.
func ValidWalletAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	return err == nil && len(decoded) == ed25519.PublicKeySize
}
