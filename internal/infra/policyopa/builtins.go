package policyopa

import "github.com/open-policy-agent/opa/ast"

// Issuance policies must be pure functions of their input: no clock, network
// or randomness.
var allowedBuiltins = map[string]struct{}{
	"abs":         {},
	"ceil":        {},
	"concat":      {},
	"contains":    {},
	"count":       {},
	"endswith":    {},
	"eq":          {},
	"equal":       {},
	"floor":       {},
	"format_int":  {},
	"gt":          {},
	"gte":         {},
	"is_number":   {},
	"is_string":   {},
	"lower":       {},
	"lt":          {},
	"lte":         {},
	"max":         {},
	"min":         {},
	"minus":       {},
	"neq":         {},
	"object.get":  {},
	"object.keys": {},
	"plus":        {},
	"regex.match": {},
	"round":       {},
	"sort":        {},
	"split":       {},
	"sprintf":     {},
	"startswith":  {},
	"substring":   {},
	"sum":         {},
	"trim":        {},
	"trim_space":  {},
	"upper":       {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
