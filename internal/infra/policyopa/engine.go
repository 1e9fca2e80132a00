package policyopa

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"qrtrust/internal/domain"
)

const issuanceQuery = "data.qrtrust.issuance.result"

// Engine evaluates a prepared issuance policy. It is safe for concurrent use.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

// NewEngineFromBundlePath compiles every .rego file under bundlePath with
// a builtin set restricted to pure functions.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("hash policy bundle: %w", err)
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	prepared, err := rego.New(
		rego.Query(issuanceQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile issuance policy: %w", err)
	}
	if names := forbiddenCalls(compiler.Modules); len(names) > 0 {
		return nil, fmt.Errorf("issuance policy uses forbidden builtins: %s", strings.Join(names, ", "))
	}
	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

// Evaluate returns the policy decision. Denials are not errors; callers
// inspect Result.Allow.
func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyEvaluation{}, fmt.Errorf("evaluate issuance policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("issuance policy produced no result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	return domain.PolicyEvaluation{BundleHash: e.bundleHash, Result: result}, nil
}

// decodeResult reads {"allow": bool, "deny": [{"code","message"}]}. Denials
// come back sorted and de-duplicated, and any denial clears Allow.
func decodeResult(value any) (domain.PolicyResult, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return domain.PolicyResult{}, fmt.Errorf("issuance policy result is %T, want object", value)
	}
	allow, ok := obj["allow"].(bool)
	if !ok {
		return domain.PolicyResult{}, errors.New("issuance policy result lacks boolean allow")
	}

	var rawDeny []any
	switch d := obj["deny"].(type) {
	case nil:
	case []any:
		rawDeny = d
	default:
		return domain.PolicyResult{}, fmt.Errorf("issuance policy deny is %T, want array", d)
	}

	seen := make(map[domain.PolicyDeny]struct{}, len(rawDeny))
	deny := make([]domain.PolicyDeny, 0, len(rawDeny))
	for _, raw := range rawDeny {
		entry, ok := raw.(map[string]any)
		if !ok {
			return domain.PolicyResult{}, errors.New("issuance policy deny entry is not an object")
		}
		code, _ := entry["code"].(string)
		if code == "" {
			return domain.PolicyResult{}, errors.New("issuance policy deny entry lacks code")
		}
		message, _ := entry["message"].(string)
		d := domain.PolicyDeny{Code: code, Message: message}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		deny = append(deny, d)
	}
	sort.Slice(deny, func(i, j int) bool {
		if deny[i].Code != deny[j].Code {
			return deny[i].Code < deny[j].Code
		}
		return deny[i].Message < deny[j].Message
	})

	result := domain.PolicyResult{Allow: allow && len(deny) == 0}
	if len(deny) > 0 {
		result.Deny = deny
	}
	return result, nil
}

// forbiddenCalls lists builtin calls outside allowedBuiltins, sorted.
func forbiddenCalls(modules map[string]*ast.Module) []string {
	found := map[string]bool{}
	for _, module := range modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			_, builtin := ast.BuiltinMap[name]
			_, allowed := allowedBuiltins[name]
			if builtin && !allowed {
				found[name] = true
			}
			return false
		})
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
