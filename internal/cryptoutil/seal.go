package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

const (
	NonceSize = 12
	TagSize   = 16
)

// ErrCryptoUnavailable means the host could not provide the cipher or a
// random source. Callers skip the handshake and keep working without it.
var ErrCryptoUnavailable = errors.New("cryptoutil: AES-GCM unavailable")

// Sealed is an AES-GCM output with the tag split from the ciphertext.
type Sealed struct {
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// Seal encrypts plaintext under key with a fresh random nonce. A nil rnd
// uses crypto/rand.
func Seal(key, plaintext []byte, rnd io.Reader) (Sealed, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rnd, iv); err != nil {
		return Sealed{}, xerrors.Wrap(errors.Join(ErrCryptoUnavailable, err), "read nonce")
	}
	out := gcm.Seal(nil, iv, plaintext, nil)
	n := len(out) - TagSize
	return Sealed{
		IV:         iv,
		Ciphertext: out[:n:n],
		Tag:        out[n:],
	}, nil
}

// Open reverses Seal. It is what the realtime server does and is kept here
// for verification in tests and tooling.
func Open(key []byte, s Sealed) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(s.IV) != NonceSize || len(s.Tag) != TagSize {
		return nil, xerrors.New("cryptoutil: bad nonce or tag size")
	}
	buf := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	pt, err := gcm.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "cryptoutil: open")
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, xerrors.Wrap(errors.Join(ErrCryptoUnavailable, err), "new cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, xerrors.Wrap(errors.Join(ErrCryptoUnavailable, err), "new gcm")
	}
	return gcm, nil
}
