package realtime

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// BuildHandshake seals {projectId, timestamp} under SHA-256(secret) with a
// fresh nonce. Errors wrapping cryptoutil.ErrCryptoUnavailable mean the
// handshake cannot be produced on this host.
func BuildHandshake(projectID, secret string, now time.Time, rnd io.Reader) (HandshakePayload, error) {
	pt, err := json.Marshal(handshakePlaintext{ProjectID: projectID, Timestamp: now.UnixMilli()})
	if err != nil {
		return HandshakePayload{}, xerrors.Wrap(err, "realtime: encode handshake")
	}
	s, err := cryptoutil.Seal(cryptoutil.DeriveKey(secret), pt, rnd)
	if err != nil {
		return HandshakePayload{}, xerrors.Wrap(err, "realtime: seal handshake")
	}
	enc := base64.StdEncoding
	return HandshakePayload{
		ProjectID:  projectID,
		IV:         enc.EncodeToString(s.IV),
		Ciphertext: enc.EncodeToString(s.Ciphertext),
		AuthTag:    enc.EncodeToString(s.Tag),
	}, nil
}

// OpenHandshake verifies a payload the way the server does and returns the
// sealed project id and timestamp.
func OpenHandshake(p HandshakePayload, secret string) (projectID string, ts time.Time, err error) {
	enc := base64.StdEncoding
	iv, err := enc.DecodeString(p.IV)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "realtime: decode iv")
	}
	ct, err := enc.DecodeString(p.Ciphertext)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "realtime: decode ciphertext")
	}
	tag, err := enc.DecodeString(p.AuthTag)
	if err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "realtime: decode auth tag")
	}
	pt, err := cryptoutil.Open(cryptoutil.DeriveKey(secret), cryptoutil.Sealed{IV: iv, Ciphertext: ct, Tag: tag})
	if err != nil {
		return "", time.Time{}, err
	}
	var hp handshakePlaintext
	if err := json.Unmarshal(pt, &hp); err != nil {
		return "", time.Time{}, xerrors.Wrap(err, "realtime: decode handshake plaintext")
	}
	return hp.ProjectID, time.UnixMilli(hp.Timestamp), nil
}
