package x402

import (
	"fmt"
	"strings"
)

// ChallengeScheme is the authentication scheme token that prefixes the
// WWW-Authenticate challenge.
const ChallengeScheme = "x402"

// EncodeChallengeHeader renders payment requirements as a WWW-Authenticate
// challenge value. Field order and quoting are fixed so naive parsers stay
// compatible; new fields append at the end, optional fields are simply
// omitted.
func EncodeChallengeHeader(r PaymentRequirements) string {
	var b strings.Builder
	b.WriteString(ChallengeScheme)
	writeParam(&b, "scheme", r.Scheme)
	writeParam(&b, "network", string(r.Network))
	writeParam(&b, "asset", r.Asset)
	writeParam(&b, "payTo", r.PayTo)
	writeParam(&b, "maxAmountRequired", r.MaxAmountRequired)
	if r.Extra.FeePayer != "" {
		writeParam(&b, "feePayer", r.Extra.FeePayer)
	}
	return b.String()
}

func writeParam(b *strings.Builder, key, value string) {
	b.WriteString(", ")
	b.WriteString(key)
	b.WriteString(`="`)
	b.WriteString(value)
	b.WriteString(`"`)
}

// ParseChallengeHeader parses a WWW-Authenticate challenge value back into
// payment requirements. Exact inverse of EncodeChallengeHeader for every
// valid requirement.
func ParseChallengeHeader(header string) (PaymentRequirements, error) {
	var r PaymentRequirements

	rest, ok := strings.CutPrefix(strings.TrimSpace(header), ChallengeScheme)
	if !ok {
		return r, NewProtocolError("invalid_challenge", "challenge does not carry the x402 scheme")
	}

	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return r, NewProtocolError("invalid_challenge", fmt.Sprintf("malformed challenge parameter: %q", part))
		}
		unquoted, ok := cutQuotes(value)
		if !ok {
			return r, NewProtocolError("invalid_challenge", fmt.Sprintf("challenge parameter %s is not quoted", key))
		}
		switch key {
		case "scheme":
			r.Scheme = unquoted
		case "network":
			r.Network = Network(unquoted)
		case "asset":
			r.Asset = unquoted
		case "payTo":
			r.PayTo = unquoted
		case "maxAmountRequired":
			r.MaxAmountRequired = unquoted
		case "feePayer":
			r.Extra.FeePayer = unquoted
		default:
			// Unknown parameters append at the end by contract; skip them
			// so old parsers keep working against newer merchants.
		}
	}

	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func cutQuotes(s string) (string, bool) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if strings.ContainsAny(inner, `"`) {
		return "", false
	}
	return inner, true
}
