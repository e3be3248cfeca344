package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Signer signs and verifies provider messages with HMAC-SHA256 over a
// canonical key=value string.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) Signer {
	return Signer{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured. Without one nothing is
// signed and every callback is accepted.
func (s Signer) Enabled() bool { return len(s.secret) > 0 }

func (s Signer) Sign(pairs ...string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical(pairs)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s Signer) Verify(signature string, pairs ...string) bool {
	if !s.Enabled() {
		return true
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical(pairs)))
	return hmac.Equal(want, mac.Sum(nil))
}

// canonical joins alternating keys and values as k1=v1&k2=v2.
func canonical(pairs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(pairs[i])
		b.WriteByte('=')
		b.WriteString(pairs[i+1])
	}
	return b.String()
}

// SignaturePairs lists the callback fields covered by its signature.
func (c Callback) SignaturePairs() []string {
	return []string{
		"message", c.Message,
		"orderId", c.OrderID,
		"requestId", c.RequestID,
		"resultCode", strconv.Itoa(c.ResultCode),
	}
}

// SignCallback fills in c.Signature.
func (s Signer) SignCallback(c Callback) Callback {
	c.Signature = s.Sign(c.SignaturePairs()...)
	return c
}

func (s Signer) VerifyCallback(c Callback) bool {
	return s.Verify(c.Signature, c.SignaturePairs()...)
}
