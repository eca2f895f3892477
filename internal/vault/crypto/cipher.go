package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/pbkdf2"

	"github.com/altexo/walletvault/internal/vault/interfaces"
)

// KeyVersion selects the key material a blob was encrypted under. The
// version byte leads every blob so historical records decrypt across
// rotations without re-encryption.
type KeyVersion byte

const (
	nonceSize = 12
	tagSize   = 16

	// pbkdf2Iterations is the floor for deriving short configured secrets.
	pbkdf2Iterations = 100_000
)

// ComplianceCipher is a versioned AES-256-GCM cipher binding the owning
// user id into each blob as additional authenticated data.
type ComplianceCipher struct {
	keys    map[KeyVersion][]byte
	current KeyVersion
}

// NewComplianceCipher builds a cipher from configured secrets keyed by
// version. The highest version becomes current; retired versions stay
// available for decryption only.
func NewComplianceCipher(secrets map[KeyVersion]string) (*ComplianceCipher, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("compliance cipher requires at least one key version")
	}
	keys := make(map[KeyVersion][]byte, len(secrets))
	versions := make([]int, 0, len(secrets))
	for v, secret := range secrets {
		key, err := normalizeKeyMaterial(v, secret)
		if err != nil {
			return nil, fmt.Errorf("key version %d: %w", v, err)
		}
		keys[v] = key
		versions = append(versions, int(v))
	}
	sort.Ints(versions)
	return &ComplianceCipher{
		keys:    keys,
		current: KeyVersion(versions[len(versions)-1]),
	}, nil
}

// CurrentVersion returns the version used for new encryptions.
func (c *ComplianceCipher) CurrentVersion() KeyVersion { return c.current }

// Encrypt seals plaintext under the current key with userID as AAD and
// returns base64(version ‖ nonce ‖ tag ‖ ciphertext).
func (c *ComplianceCipher) Encrypt(plaintext []byte, userID string) (string, error) {
	gcm, err := c.aead(c.current)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(userID))
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, 1+nonceSize+tagSize+len(ciphertext))
	blob = append(blob, byte(c.current))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob under the key version it was sealed with, verifying
// the tag against the same AAD. Any mismatch fails closed; no partial
// plaintext is ever returned.
func (c *ComplianceCipher) Decrypt(encoded string, userID string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: blob is not base64", interfaces.ErrDecryptionFailed)
	}
	if len(blob) < 1+nonceSize+tagSize {
		return nil, fmt.Errorf("%w: blob too short", interfaces.ErrDecryptionFailed)
	}
	version := KeyVersion(blob[0])
	gcm, err := c.aead(version)
	if err != nil {
		// Unknown version is still a decrypt mismatch: callers matching the
		// broad sentinel fail closed the same way.
		return nil, fmt.Errorf("%w: %w", interfaces.ErrDecryptionFailed, err)
	}

	nonce := blob[1 : 1+nonceSize]
	tag := blob[1+nonceSize : 1+nonceSize+tagSize]
	ciphertext := blob[1+nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("%w: tag verification failed", interfaces.ErrDecryptionFailed)
	}
	return plaintext, nil
}

func (c *ComplianceCipher) aead(version KeyVersion) (cipher.AEAD, error) {
	key, ok := c.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", interfaces.ErrUnknownKeyVersion, version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// normalizeKeyMaterial turns a configured secret into a 32-byte AES key.
// A 64-char hex or 32-byte base64 secret is used directly; anything shorter
// runs through PBKDF2 with a version-pinned salt so the derivation is
// deterministic across restarts.
func normalizeKeyMaterial(version KeyVersion, secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty key material")
	}
	if decoded, err := hex.DecodeString(secret); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	salt := versionSalt(version)
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, 32, sha256.New), nil
}

func versionSalt(version KeyVersion) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("walletvault-kdf-v%d", version)))
	return sum[:]
}

// SecureWipe overwrites sensitive material once it is no longer needed.
func SecureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
