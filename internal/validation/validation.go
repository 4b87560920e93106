// Package validation guards payment requests before they reach the
// processor. It is a pure transform: no I/O, no state.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Error reports a rejected payment request field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SupportedCurrencies is the set the processor settles in.
var SupportedCurrencies = map[string]bool{
	"MVR": true,
	"USD": true,
}

// Request is a sanitized, validated payment request.
type Request struct {
	Amount         float64
	Currency       string
	OrderReference string
}

var (
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	controlPattern = regexp.MustCompile(`[\x00-\x1f\x7f]+`)
	spacePattern   = regexp.MustCompile(`\s{2,}`)
)

// SanitizeText strips markup and control characters and collapses
// whitespace, mirroring the host platform's text-field sanitizer.
func SanitizeText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = controlPattern.ReplaceAllString(s, " ")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Validate sanitizes raw checkout fields and rejects anything the processor
// would refuse. It runs before any remote call.
func Validate(raw map[string]any) (Request, error) {
	sanitized := make(map[string]any, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			sanitized[k] = SanitizeText(val)
		default:
			sanitized[k] = v
		}
	}

	for _, field := range []string{"amount", "currency", "orderReference"} {
		if isEmpty(sanitized[field]) {
			return Request{}, &Error{Field: field, Message: "missing required field"}
		}
	}

	amount, ok := toFloat(sanitized["amount"])
	if !ok {
		return Request{}, &Error{Field: "amount", Message: "must be numeric"}
	}
	if amount <= 0 {
		return Request{}, &Error{Field: "amount", Message: "must be greater than zero"}
	}

	currency, _ := sanitized["currency"].(string)
	if !SupportedCurrencies[currency] {
		return Request{}, &Error{Field: "currency", Message: "unsupported currency"}
	}

	reference := stringify(sanitized["orderReference"])

	return Request{
		Amount:         amount,
		Currency:       currency,
		OrderReference: reference,
	}, nil
}

// isEmpty reports a field that was not supplied at all. A numeric zero is
// present, just invalid; the range check owns that message.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	}
	return ""
}
