package archive

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"regexp"

	json "github.com/goccy/go-json"
)

var (
	msisdnRe     = regexp.MustCompile(`254[17][0-9]{8}`)
	msisdnOnlyRe = regexp.MustCompile(`^254[17][0-9]{8}$`)
)

// HashPhone returns the hex-encoded SHA-256 of a phone number.
func HashPhone(phone string) string {
	if phone == "" {
		return ""
	}
	h := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", h)
}

// MaskPhone keeps the country prefix and the last three digits.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return "***"
	}
	return phone[:4] + "*****" + phone[len(phone)-3:]
}

// ScrubPhones masks every Kenyan MSISDN found in raw. JSON input stays
// valid JSON: a phone sent as a number is replaced by its masked string.
func ScrubPhones(raw []byte) []byte {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return scrubText(raw)
	}
	out, err := json.Marshal(scrubValue(doc))
	if err != nil {
		return scrubText(raw)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = scrubValue(e)
		}
	case []any:
		for i, e := range t {
			t[i] = scrubValue(e)
		}
	case string:
		return string(scrubText([]byte(t)))
	case json.Number:
		if msisdnOnlyRe.MatchString(string(t)) {
			return MaskPhone(string(t))
		}
	}
	return v
}

func scrubText(raw []byte) []byte {
	return msisdnRe.ReplaceAllFunc(raw, func(m []byte) []byte {
		return []byte(MaskPhone(string(m)))
	})
}
