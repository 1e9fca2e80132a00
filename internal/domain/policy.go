package domain

import "context"

type PolicyInput struct {
	ProductID   string            `json:"product_id"`
	Temperature float64           `json:"temperature"`
	Location    string            `json:"location"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}

// IssuancePolicy gates issuance before any side effect.
type IssuancePolicy interface {
	Evaluate(ctx context.Context, input PolicyInput) (PolicyEvaluation, error)
}
