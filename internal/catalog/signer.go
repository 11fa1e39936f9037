package catalog

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signer produces the shared-secret request signature the destination
// catalog requires: HMAC-SHA256 over payload bytes plus the unix timestamp.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer with the given shared secret
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex signature for the payload at the given unix timestamp
func (s *Signer) Sign(payload []byte, unixTime int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	mac.Write([]byte(strconv.FormatInt(unixTime, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid signature for the payload and
// timestamp, in constant time
func (s *Signer) Verify(payload []byte, unixTime int64, sig string) bool {
	expected := s.Sign(payload, unixTime)
	return hmac.Equal([]byte(expected), []byte(sig))
}
