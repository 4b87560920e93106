package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateNonce issues a single-purpose admin nonce: an opaque value bound to
// the admin token by HMAC and valid for ttl.
func CreateNonce(secret string, ttl time.Duration) string {
	id := uuid.New().String()
	expiry := strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)
	return id + "." + expiry + "." + nonceMAC(secret, id, expiry)
}

// VerifyNonce checks the nonce's MAC and expiry.
func VerifyNonce(secret, nonce string) bool {
	parts := strings.Split(nonce, ".")
	if len(parts) != 3 {
		return false
	}
	id, expiryStr, mac := parts[0], parts[1], parts[2]

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return false
	}
	expected := nonceMAC(secret, id, expiryStr)
	return hmac.Equal([]byte(expected), []byte(mac))
}

func nonceMAC(secret, id, expiry string) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(h, "%s.%s", id, expiry)
	return hex.EncodeToString(h.Sum(nil))
}
