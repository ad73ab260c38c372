// Package modules maps the document shapes of each accounting module onto the
// canonical allocation.OutstandingLine and back.
package modules

import (
	"errors"
	"fmt"
	"strings"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
)

var ErrUnknownKind = errors.New("modules: unknown module kind")

// Kind identifies the module a settlement belongs to.
type Kind string

const (
	KindARSetOff  Kind = "ar_setoff"  // AR document set-off
	KindCBPayment Kind = "cb_payment" // cash-book general payment
	KindGLContra  Kind = "gl_contra"  // GL AR/AP contra
)

var defaultPolicies = map[Kind]fpmath.DecimalPolicy{
	KindARSetOff:  {AmountDecimals: 2, LocalAmountDecimals: 2, ExchangeRateDecimals: 6},
	KindCBPayment: {AmountDecimals: 2, LocalAmountDecimals: 2, ExchangeRateDecimals: 8},
	KindGLContra:  {AmountDecimals: 2, LocalAmountDecimals: 2, ExchangeRateDecimals: 6},
}

// Kinds lists every supported module in a stable order.
func Kinds() []Kind {
	return []Kind{KindARSetOff, KindCBPayment, KindGLContra}
}

// ParseKind accepts the canonical name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultPolicies[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

func (k Kind) String() string {
	return string(k)
}

// DefaultPolicy returns the built-in decimal policy of a module. Unknown kinds
// fall back to math.DefaultPolicy.
func DefaultPolicy(k Kind) fpmath.DecimalPolicy {
	if p, ok := defaultPolicies[k]; ok {
		return p
	}
	return fpmath.DefaultPolicy
}

// PolicyFor returns the override for k when present, else DefaultPolicy(k).
func PolicyFor(k Kind, overrides map[Kind]fpmath.DecimalPolicy) fpmath.DecimalPolicy {
	if p, ok := overrides[k]; ok {
		return p
	}
	return DefaultPolicy(k)
}

// Decode reads a module's documents with unmarshal (json.Unmarshal bound to a
// payload, a yaml.Node's Decode, ...) and returns them as outstanding lines
// numbered from 1.
func Decode(k Kind, unmarshal func(any) error) ([]allocation.OutstandingLine, error) {
	switch k {
	case KindARSetOff:
		var docs ARSetOffDocuments
		if err := unmarshal(&docs); err != nil {
			return nil, fmt.Errorf("modules: decode %s: %w", k, err)
		}
		return docs.Lines(), nil
	case KindCBPayment:
		var docs CBPaymentDocuments
		if err := unmarshal(&docs); err != nil {
			return nil, fmt.Errorf("modules: decode %s: %w", k, err)
		}
		return docs.Lines(), nil
	case KindGLContra:
		var docs GLContraDocuments
		if err := unmarshal(&docs); err != nil {
			return nil, fmt.Errorf("modules: decode %s: %w", k, err)
		}
		return docs.Lines(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
}
