package verification

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/silkroad-bazaar/x402/types"
)

// IsValidPaymentPayload is the non-panicking structural check run on untrusted
// input. candidate is either a decoded JSON object (map[string]interface{}) or
// a PaymentPayload. It accepts an empty signature only when a signed
// transaction is carried instead; which of the two a deployment accepts is
// decided later by ValidatePaymentPayloadForMode.
func IsValidPaymentPayload(candidate interface{}) bool {
	switch c := candidate.(type) {
	case map[string]interface{}:
		return isValidObject(c)
	case *types.PaymentPayload:
		return c != nil && isValidTyped(c)
	case types.PaymentPayload:
		return isValidTyped(&c)
	default:
		return false
	}
}

func isValidObject(obj map[string]interface{}) bool {
	version, ok := integer(obj["x402Version"])
	if !ok || version != int64(types.X402Version1) {
		return false
	}

	scheme, ok := obj["scheme"].(string)
	if !ok || scheme != string(types.SchemeExact) {
		return false
	}

	network, ok := obj["network"].(string)
	if !ok || !types.Network(network).IsSupported() {
		return false
	}

	inner, ok := obj["payload"].(map[string]interface{})
	if !ok {
		return false
	}

	fields := make(map[string]string, 5)
	for _, key := range []string{"signature", "from", "to", "amount", "mint"} {
		v, ok := inner[key].(string)
		if !ok {
			return false
		}
		fields[key] = v
	}

	signedTx := ""
	if raw, present := inner["signedTransaction"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return false
		}
		signedTx = s
	}

	return hasProofFields(fields["signature"], fields["from"], fields["to"], fields["amount"], fields["mint"], signedTx)
}

func isValidTyped(p *types.PaymentPayload) bool {
	if p.X402Version != int(types.X402Version1) ||
		p.Scheme != string(types.SchemeExact) ||
		!types.Network(p.Network).IsSupported() {
		return false
	}

	in := p.Payload
	return hasProofFields(in.Signature, in.From, in.To, in.Amount, in.Mint, in.SignedTransaction)
}

func hasProofFields(signature, from, to, amount, mint, signedTx string) bool {
	for _, v := range []string{from, to, amount, mint} {
		if blank(v) {
			return false
		}
	}

	return !blank(signature) || !blank(signedTx)
}

// integer accepts the numeric forms encoding/json produces and rejects fractions.
func integer(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ValidatePaymentPayload checks a decoded payload in signature proof mode and
// returns a typed error naming the first violated rule.
func ValidatePaymentPayload(p *types.PaymentPayload) error {
	return ValidatePaymentPayloadForMode(p, types.ProofModeSignature)
}

// ValidatePaymentPayloadForMode is ValidatePaymentPayload for an explicit proof mode.
// In signature mode the signature is required; in signed-transaction mode the
// signed transaction is required and the signature may be empty.
func ValidatePaymentPayloadForMode(p *types.PaymentPayload, mode types.ProofMode) error {
	if p == nil {
		return &types.X402Error{
			Code:    types.ErrInvalidPayload,
			Message: "payment payload is required",
		}
	}

	if p.X402Version != int(types.X402Version1) {
		return &types.VersionMismatchError{Expected: int(types.X402Version1), Actual: p.X402Version}
	}

	if p.Scheme != string(types.SchemeExact) {
		return &types.SchemeMismatchError{Expected: string(types.SchemeExact), Actual: p.Scheme}
	}

	if !types.Network(p.Network).IsSupported() {
		return &types.NetworkMismatchError{Actual: p.Network}
	}

	in := p.Payload
	switch mode {
	case types.ProofModeSignedTransaction:
		if blank(in.SignedTransaction) {
			return &types.FieldMissingError{Field: "signed transaction"}
		}
	default:
		if blank(in.Signature) {
			return &types.FieldMissingError{Field: "signature"}
		}
	}

	if blank(in.From) {
		return &types.FieldMissingError{Field: "sender"}
	}
	if blank(in.To) {
		return &types.FieldMissingError{Field: "recipient"}
	}
	if blank(in.Amount) {
		return &types.FieldMissingError{Field: "amount"}
	}
	if blank(in.Mint) {
		return &types.FieldMissingError{Field: "mint"}
	}

	return nil
}
