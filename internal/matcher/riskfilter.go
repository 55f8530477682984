package matcher

import (
	"fmt"

	"github.com/hashicorp/go-bexpr"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

// RiskFilter gates UnknownPayment webhooks behind an optional boolean
// expression, so an operator can suppress notification noise for patterns
// they already understand (a known internal sweep wallet, dust-value
// transfers below a reporting threshold) without touching matching logic.
type RiskFilter struct {
	eval *bexpr.Evaluator
}

// riskCandidate is the struct an expression is evaluated against; the
// bexpr tags are the field names an operator's expression can reference.
type riskCandidate struct {
	Network        string `bexpr:"network"`
	ToAddress      string `bexpr:"to_address"`
	FromAddress    string `bexpr:"from_address"`
	ValueBaseUnits string `bexpr:"value_base_units"`
}

// NewRiskFilter compiles expression once at startup. An empty expression
// disables filtering entirely: Allow then always reports true, matching
// spec.md §4.4's default of enqueueing every unknown payment when webhooks
// are configured.
func NewRiskFilter(expression string) (*RiskFilter, error) {
	if expression == "" {
		return &RiskFilter{}, nil
	}
	eval, err := bexpr.CreateEvaluator(expression)
	if err != nil {
		return nil, fmt.Errorf("matcher: compile risk filter expression: %w", err)
	}
	return &RiskFilter{eval: eval}, nil
}

// Allow reports whether an UnknownPayment webhook should actually fire
// for detail.
func (f *RiskFilter) Allow(detail store.UnknownPaymentDetail) (bool, error) {
	if f.eval == nil {
		return true, nil
	}
	matched, err := f.eval.Evaluate(riskCandidate{
		Network:        string(detail.Network),
		ToAddress:      detail.ToAddress,
		FromAddress:    detail.FromAddress,
		ValueBaseUnits: detail.Value.String(),
	})
	if err != nil {
		return false, err
	}
	return !matched, nil
}
