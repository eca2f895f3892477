// Package crypto implements the pure cryptographic primitives of the vault:
// wallet address derivation and versioned authenticated encryption. Nothing
// in this package performs I/O.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// tronVersionByte prefixes mainnet Tron addresses before Base58Check.
const tronVersionByte = 0x41

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// NormalizeKey strips an optional 0x prefix and lower-cases the key hex.
// Returns ErrInvalidKeyFormat unless exactly 64 hex characters remain.
func NormalizeKey(privateKey string) (string, error) {
	k := strings.TrimSpace(privateKey)
	k = strings.TrimPrefix(k, "0x")
	k = strings.TrimPrefix(k, "0X")
	if !hexKeyPattern.MatchString(k) {
		return "", fmt.Errorf("%w: expected 64 hex characters", interfaces.ErrInvalidKeyFormat)
	}
	return strings.ToLower(k), nil
}

// KeyHash returns the SHA-256 of the normalized key hex. This is the only
// key-derived value that may appear outside the encrypted blob.
func KeyHash(normalizedKey string) string {
	sum := sha256.Sum256([]byte(normalizedKey))
	return hex.EncodeToString(sum[:])
}

// DeriveAddress computes the canonical wallet address controlled by the
// given private key on the given network. A derivation failure is fatal for
// the submission; callers must never substitute a fallback address.
func DeriveAddress(privateKey string, network interfaces.Network) (string, error) {
	normalized, err := NormalizeKey(privateKey)
	if err != nil {
		return "", err
	}
	keyBytes, err := hex.DecodeString(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidKeyFormat, err)
	}
	defer zero(keyBytes)

	priv, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		// Scalar out of curve order, zero key, etc.
		return "", fmt.Errorf("%w: %v", interfaces.ErrAddressDerivation, err)
	}
	addr := ethcrypto.PubkeyToAddress(priv.PublicKey)
	priv.D.SetInt64(0)

	switch {
	case network.IsEVM():
		return strings.ToLower(addr.Hex()), nil
	case network == interfaces.NetworkTRC20:
		return encodeTronAddress(addr.Bytes()), nil
	default:
		return "", fmt.Errorf("%w: unsupported network %q", interfaces.ErrAddressDerivation, network)
	}
}

// encodeTronAddress wraps a 20-byte account hash in Tron Base58Check:
// version byte 0x41, then a 4-byte double-SHA-256 checksum.
func encodeTronAddress(accountHash []byte) string {
	payload := make([]byte, 0, 25)
	payload = append(payload, tronVersionByte)
	payload = append(payload, accountHash...)

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	payload = append(payload, second[:4]...)

	return base58.Encode(payload)
}

// DecodeTronAddress reverses encodeTronAddress and verifies the checksum.
// Used by receivers that need the raw 20-byte account hash back.
func DecodeTronAddress(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAddressDerivation, err)
	}
	if len(raw) != 25 || raw[0] != tronVersionByte {
		return nil, fmt.Errorf("%w: malformed tron address", interfaces.ErrAddressDerivation)
	}
	payload, checksum := raw[:21], raw[21:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return nil, fmt.Errorf("%w: checksum mismatch", interfaces.ErrAddressDerivation)
		}
	}
	return payload[1:], nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
