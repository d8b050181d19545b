// Package eek decrypts encryption key envelopes distributed through the
// permission registry. The envelope layout is fixed:
//
//	[0, 16)    AES-CBC initialization vector
//	[16, 81)   uncompressed secp256k1 ephemeral public key
//	[81, n-32) ciphertext
//	[n-32, n)  HMAC-SHA256 over iv || ephemeral key || ciphertext
//
// The symmetric keys are derived from SHA-512 of the ECDH shared X
// coordinate: the first 32 bytes encrypt, the last 32 bytes authenticate.
package eek

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ivLen        = 16
	ephemeralLen = 65
	macLen       = 32

	// MinEnvelopeLen is the smallest well-formed envelope (empty ciphertext).
	MinEnvelopeLen = ivLen + ephemeralLen + macLen
)

var (
	// ErrTooShort means the envelope is shorter than the fixed regions allow.
	ErrTooShort = errors.New("eek: envelope too short")
	// ErrEphemeralKey means the embedded ephemeral public key is not a valid
	// secp256k1 point.
	ErrEphemeralKey = errors.New("eek: invalid ephemeral public key")
	// ErrMACMismatch means the authentication code did not verify. A key
	// granted to a different operator fails here as well, since the MAC key
	// is derived from the ECDH agreement.
	ErrMACMismatch = errors.New("eek: authentication code mismatch")
	// ErrPadding means the ciphertext decrypted to invalid PKCS#7 padding.
	ErrPadding = errors.New("eek: invalid padding")
)

// Envelope は固定レイアウトの暗号化鍵エンベロープの各領域
type Envelope struct {
	IV         []byte
	Ephemeral  []byte
	Ciphertext []byte
	MAC        []byte
}

// Parse validates the envelope length and slices the four fixed regions.
// The returned slices alias the input.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) < MinEnvelopeLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTooShort, len(raw), MinEnvelopeLen)
	}
	return &Envelope{
		IV:         raw[:ivLen],
		Ephemeral:  raw[ivLen : ivLen+ephemeralLen],
		Ciphertext: raw[ivLen+ephemeralLen : len(raw)-macLen],
		MAC:        raw[len(raw)-macLen:],
	}, nil
}

// Decrypter holds the operator private key used for ECDH agreement.
type Decrypter struct {
	priv *ecdsa.PrivateKey
}

// NewDecrypter は操作者秘密鍵を保持するDecrypterを作成
func NewDecrypter(priv *ecdsa.PrivateKey) *Decrypter {
	return &Decrypter{priv: priv}
}

// Decrypt recovers the plaintext content key from a raw envelope.
// Every failure mode maps to one of the package sentinel errors.
func (d *Decrypter) Decrypt(raw []byte) ([]byte, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	ephemeral, err := crypto.UnmarshalPubkey(env.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEphemeralKey, err)
	}

	encKey, macKey := deriveKeys(d.priv, ephemeral)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(env.IV)
	mac.Write(env.Ephemeral)
	mac.Write(env.Ciphertext)
	if !hmac.Equal(mac.Sum(nil), env.MAC) {
		return nil, ErrMACMismatch
	}

	if len(env.Ciphertext) == 0 || len(env.Ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrPadding, len(env.Ciphertext))
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(env.Ciphertext))
	cipher.NewCBCDecrypter(block, env.IV).CryptBlocks(plain, env.Ciphertext)

	return unpad(plain)
}

// deriveKeys performs the ECDH agreement and splits the SHA-512 digest of
// the shared X coordinate into encryption and MAC keys.
func deriveKeys(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) (encKey, macKey []byte) {
	x, _ := pub.Curve.ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	shared := make([]byte, 32)
	x.FillBytes(shared)
	derived := sha512.Sum512(shared)
	return derived[:32], derived[32:]
}

// unpad strips PKCS#7 padding.
func unpad(plain []byte) ([]byte, error) {
	n := int(plain[len(plain)-1])
	if n == 0 || n > aes.BlockSize || n > len(plain) {
		return nil, ErrPadding
	}
	if !bytes.Equal(plain[len(plain)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, ErrPadding
	}
	return plain[:len(plain)-n], nil
}
