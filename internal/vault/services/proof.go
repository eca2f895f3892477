package services

import (
	"regexp"
	"strings"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// Proof is the closed set of wallet ownership proof variants. Parsing
// happens once, up front; everything downstream switches on the concrete
// type so adding a variant is a compile-time-checked change.
type Proof interface {
	Label() string
	isProof()
}

// PrivateKeyProof is a raw 32-byte secp256k1 scalar, hex encoded.
type PrivateKeyProof struct{ Hex string }

// SignedMessageProof is a pre-signed 65-byte message signature.
type SignedMessageProof struct{ Signature string }

// WalletConnectionProof is a wc: or ethereum: connection string.
type WalletConnectionProof struct{ URI string }

func (PrivateKeyProof) isProof()       {}
func (SignedMessageProof) isProof()    {}
func (WalletConnectionProof) isProof() {}

// Label returns the stable proof-type name used in attempt records.
func (PrivateKeyProof) Label() string { return "private_key" }

// Label implements Proof.
func (SignedMessageProof) Label() string { return "signed_message" }

// Label implements Proof.
func (WalletConnectionProof) Label() string { return "wallet_connection" }

var (
	privateKeyShape    = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	signedMessageShape = regexp.MustCompile(`^[0-9a-fA-F]{130}$`)
)

// ParseProof classifies raw proof material by shape. Anything outside the
// closed set is ErrUnsupportedProofType; the raw material never appears in
// the error.
func ParseProof(raw string) (Proof, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "wc:") || strings.HasPrefix(trimmed, "ethereum:") {
		return WalletConnectionProof{URI: trimmed}, nil
	}

	hexPart := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	switch {
	case privateKeyShape.MatchString(hexPart):
		return PrivateKeyProof{Hex: strings.ToLower(hexPart)}, nil
	case signedMessageShape.MatchString(hexPart):
		return SignedMessageProof{Signature: strings.ToLower(hexPart)}, nil
	default:
		return nil, interfaces.ErrUnsupportedProofType
	}
}
