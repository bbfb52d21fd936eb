// Package codec converts PaymentPayload values to and from the X-Payment header
// and locates that header in inbound requests.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/silkroad-bazaar/x402/types"
	"github.com/silkroad-bazaar/x402/verification"
)

// EncodePaymentHeader serializes payload to JSON and encodes it with standard base64.
func EncodePaymentHeader(payload *types.PaymentPayload) (string, error) {
	if payload == nil {
		return "", &types.X402Error{
			Code:    types.ErrEncodingFailed,
			Message: "cannot encode nil payment payload",
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", &types.X402Error{
			Code:    types.ErrEncodingFailed,
			Message: errors.Wrap(err, "encode payment header").Error(),
		}
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader reverses EncodePaymentHeader. It returns nil for invalid
// base64, invalid JSON or a structurally invalid payload; callers treat nil
// exactly like a missing header.
func DecodePaymentHeader(encoded string) *types.PaymentPayload {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil
	}

	var candidate interface{}
	if err := json.Unmarshal(data, &candidate); err != nil {
		return nil
	}

	if !verification.IsValidPaymentPayload(candidate) || hasCaseVariantKeys(candidate) {
		return nil
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}

	// encoding/json matches struct fields case-insensitively, so the typed
	// value is checked again rather than trusting the object check.
	if !verification.IsValidPaymentPayload(&payload) {
		return nil
	}

	return &payload
}

var (
	payloadFields = []string{"x402Version", "scheme", "network", "payload"}
	proofFields   = []string{"signature", "from", "to", "amount", "mint", "signedTransaction"}
)

// hasCaseVariantKeys reports whether the object spells a protocol field in
// any case other than the canonical one, such as "Amount" next to "amount".
func hasCaseVariantKeys(candidate interface{}) bool {
	obj, ok := candidate.(map[string]interface{})
	if !ok {
		return false
	}
	if caseVariant(obj, payloadFields) {
		return true
	}
	inner, _ := obj["payload"].(map[string]interface{})
	return caseVariant(inner, proofFields)
}

func caseVariant(obj map[string]interface{}, fields []string) bool {
	for key := range obj {
		for _, field := range fields {
			if key != field && strings.EqualFold(key, field) {
				return true
			}
		}
	}
	return false
}
