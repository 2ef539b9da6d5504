// Package signing signs peer envelopes with the node key and verifies
// envelopes signed by other nodes.
package signing

import (
	"context"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"golang.org/x/crypto/hkdf"

	"github.com/R3E-Network/ocn-node/internal/storage"
)

var hkdfSalt = []byte("ocn-node")

// Signer holds the node's private key.
type Signer struct {
	key *keys.PrivateKey
}

// New wraps an existing key.
func New(key *keys.PrivateKey) *Signer {
	return &Signer{key: key}
}

// FromHex parses a hex-encoded 32-byte private key.
func FromHex(privateKeyHex string) (*Signer, error) {
	key, err := keys.NewPrivateKeyFromHex(trimHex(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return New(key), nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := keys.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return New(key), nil
}

// DeriveKey derives a P-256 key from a master seed with HKDF-SHA256. The same
// seed and version always produce the same key.
func DeriveKey(masterKeySeed []byte, version string) (*keys.PrivateKey, error) {
	if len(masterKeySeed) == 0 {
		return nil, fmt.Errorf("master key seed is required")
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("key version is required")
	}

	reader := hkdf.New(sha256.New, masterKeySeed, hkdfSalt, []byte("wallet-"+version))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	// Map OKM into [1, n-1].
	n := elliptic.P256().Params().N
	d := new(big.Int).SetBytes(okm)
	d.Mod(d, new(big.Int).Sub(n, big.NewInt(1)))
	d.Add(d, big.NewInt(1))

	raw := make([]byte, 32)
	d.FillBytes(raw)
	return keys.NewPrivateKeyFromBytes(raw)
}

// Sign returns the hex-encoded signature of SHA-256(data).
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(s.key.Sign(data))
}

// PublicKeyHex returns the compressed public key in hex.
func (s *Signer) PublicKeyHex() string {
	return s.key.PublicKey().StringCompressed()
}

// Address returns the Neo address of the node key.
func (s *Signer) Address() string {
	return s.key.Address()
}

// PrivateKeyHex returns the private key in hex. Only used to persist the key.
func (s *Signer) PrivateKeyHex() string {
	return hex.EncodeToString(s.key.Bytes())
}

// Verify reports whether sigHex is a valid signature of data under the
// compressed public key pubKeyHex.
func Verify(pubKeyHex string, data []byte, sigHex string) bool {
	pub, err := keys.NewPublicKeyFromString(trimHex(pubKeyHex))
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(trimHex(sigHex))
	if err != nil || len(sig) != 64 {
		return false
	}
	return pub.Verify(sig, hash.Sha256(data).BytesBE())
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	return strings.TrimPrefix(s, "0X")
}

// =============================================================================
// Key loading
// =============================================================================

// KeySource lists where the node key may come from, in order of precedence.
type KeySource struct {
	PrivateKeyHex    string
	MasterKeySeedHex string
}

const walletKeyVersion = "v1"

// Load resolves the node key: an explicit key, then a key derived from the
// master seed, then the key persisted in the wallet store. When none exists a
// key is generated and persisted.
func Load(ctx context.Context, src KeySource, wallet storage.WalletStore) (*Signer, error) {
	if src.PrivateKeyHex != "" {
		return FromHex(src.PrivateKeyHex)
	}

	if src.MasterKeySeedHex != "" {
		seed, err := hex.DecodeString(trimHex(src.MasterKeySeedHex))
		if err != nil {
			return nil, fmt.Errorf("decode master key seed: %w", err)
		}
		key, err := DeriveKey(seed, walletKeyVersion)
		if err != nil {
			return nil, err
		}
		return New(key), nil
	}

	if wallet == nil {
		return nil, fmt.Errorf("no key source configured")
	}

	stored, err := wallet.GetWalletKey(ctx)
	switch {
	case err == nil:
		return FromHex(stored)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	signer, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := wallet.SaveWalletKey(ctx, signer.PrivateKeyHex()); err != nil {
		return nil, fmt.Errorf("persist wallet key: %w", err)
	}
	return signer, nil
}
