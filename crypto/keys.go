// Package crypto manages the secp256k1 keys price feeders sign their
// reports with.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// FeederKey is a secp256k1 signing key held by an off-chain price feeder.
type FeederKey struct {
	*ecdsa.PrivateKey
}

// GenerateFeederKey creates a fresh signing key.
func GenerateFeederKey() (*FeederKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &FeederKey{key}, nil
}

// FeederKeyFromBytes parses a 32-byte scalar into a signing key.
func FeederKeyFromBytes(b []byte) (*FeederKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &FeederKey{key}, nil
}

// FeederKeyFromHex parses a hex-encoded scalar, with or without a 0x prefix.
func FeederKeyFromHex(raw string) (*FeederKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key encoding: %w", err)
	}
	return FeederKeyFromBytes(decoded)
}

// Bytes returns the 32-byte scalar.
func (k *FeederKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

// Address derives the feeder address registered with the report verifier.
func (k *FeederKey) Address() ethcommon.Address {
	return ethcrypto.PubkeyToAddress(k.PublicKey)
}
