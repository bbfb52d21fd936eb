package codec

import (
	"net/http"

	"github.com/silkroad-bazaar/x402/types"
)

// Keys tried, in order, on plain maps that are not case-insensitive.
var plainHeaderKeys = []string{"x-payment", types.PaymentHeader}

type headerGetter interface {
	Get(key string) string
}

// ExtractPaymentHeader returns the X-Payment value from headers. Supported
// inputs are http.Header, anything with a case-insensitive Get method, and the
// plain maps map[string]string, map[string][]string and map[string]interface{}.
// Multi-value entries yield their first element. ok is false when the header is
// absent or empty.
func ExtractPaymentHeader(headers interface{}) (value string, ok bool) {
	switch h := headers.(type) {
	case http.Header:
		return nonEmpty(h.Get(types.PaymentHeader))
	case map[string]string:
		for _, key := range plainHeaderKeys {
			if v, found := h[key]; found {
				return nonEmpty(v)
			}
		}
	case map[string][]string:
		for _, key := range plainHeaderKeys {
			if v, found := h[key]; found {
				return first(v)
			}
		}
	case map[string]interface{}:
		for _, key := range plainHeaderKeys {
			if v, found := h[key]; found {
				return fromAny(v)
			}
		}
	case headerGetter:
		if h != nil {
			return nonEmpty(h.Get(types.PaymentHeader))
		}
	}

	return "", false
}

func fromAny(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return nonEmpty(t)
	case []string:
		return first(t)
	case []interface{}:
		if len(t) == 0 {
			return "", false
		}
		s, ok := t[0].(string)
		if !ok {
			return "", false
		}
		return nonEmpty(s)
	default:
		return "", false
	}
}

func first(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	return nonEmpty(values[0])
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}
