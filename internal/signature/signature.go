package signature

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strconv"
)

// Sign computes the BML Connect request signature over the given fields.
// The processor canonicalizes by sorting field names ascending, concatenating
// key+value pairs, and appending the merchant API key. Any existing
// "signature" field is excluded. The digest is md5(hex(sha1(input))) rendered
// as lowercase hex, matching the processor's scheme exactly; a deviation here
// invalidates every future webhook delivery.
func Sign(fields map[string]string, apiKey string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var toSign []byte
	for _, k := range keys {
		toSign = append(toSign, k...)
		toSign = append(toSign, fields[k]...)
	}
	toSign = append(toSign, apiKey...)

	first := sha1.Sum(toSign)
	firstHex := hex.EncodeToString(first[:])
	second := md5.Sum([]byte(firstHex))
	return hex.EncodeToString(second[:])
}

// Verify recomputes the signature for fields and compares it to the provided
// signature in constant time.
func Verify(fields map[string]string, provided, apiKey string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(fields, apiKey)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// CanonicalFields flattens a decoded JSON payload into the string form the
// processor signs. JSON numbers arrive as float64; integral values must
// render without a fractional part ("42", not "42.00") to match the
// processor's own concatenation.
func CanonicalFields(payload map[string]any) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			// false and null concatenate as the empty string upstream,
			// but the key still participates in the signed string.
			if val {
				out[k] = "1"
			} else {
				out[k] = ""
			}
		case nil:
			out[k] = ""
		}
	}
	return out
}
