package cryptoutil

import (
	"bytes"
	"errors"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestSeal_OpenRoundTrip(t *testing.T) {
	key := DeriveKey("project-secret")
	pt := []byte(`{"projectId":"p1","timestamp":1700000000000}`)

	s, err := Seal(key, pt, nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(s.IV) != NonceSize || len(s.Tag) != TagSize || len(s.Ciphertext) != len(pt) {
		t.Fatalf("sizes iv=%d tag=%d ct=%d", len(s.IV), len(s.Tag), len(s.Ciphertext))
	}

	got, err := Open(key, s)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, pt) {
		t.Fatalf("Open = %q", got)
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	key := DeriveKey("k")
	a, _ := Seal(key, []byte("same"), nil)
	b, _ := Seal(key, []byte("same"), nil)
	if bytes.Equal(a.IV, b.IV) {
		t.Fatal("nonce reused across seals")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Fatal("ciphertext should differ with a fresh nonce")
	}
}

func TestOpen_WrongKeyOrTamper(t *testing.T) {
	s, _ := Seal(DeriveKey("right"), []byte("payload"), nil)

	if _, err := Open(DeriveKey("wrong"), s); err == nil {
		t.Fatal("Open with wrong key should fail")
	}

	s.Tag[0] ^= 0xff
	if _, err := Open(DeriveKey("right"), s); err == nil {
		t.Fatal("Open with tampered tag should fail")
	}

	if _, err := Open(DeriveKey("right"), Sealed{IV: []byte{1}, Tag: make([]byte, TagSize)}); err == nil {
		t.Fatal("Open with short nonce should fail")
	}
}

func TestSeal_Unavailable(t *testing.T) {
	if _, err := Seal([]byte("short key"), []byte("x"), nil); !errors.Is(err, ErrCryptoUnavailable) {
		t.Fatalf("bad key err = %v, want ErrCryptoUnavailable", err)
	}
	if _, err := Seal(DeriveKey("k"), []byte("x"), failingReader{}); !errors.Is(err, ErrCryptoUnavailable) {
		t.Fatalf("rand failure err = %v, want ErrCryptoUnavailable", err)
	}
}
