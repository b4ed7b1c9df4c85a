package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

var ErrPolicyBlocked = errors.New("query blocked by policy")

// PolicyGuard evaluates a rego policy over {query, tenant_id}.
// The policy package must be sql_policy and define decision and reason.
type PolicyGuard struct {
	query rego.PreparedEvalQuery
}

func NewPolicyGuard(ctx context.Context, policy string) (*PolicyGuard, error) {
	r := rego.New(
		rego.Query("decision := data.sql_policy.decision; reason := data.sql_policy.reason"),
		rego.Module("sql_policy.rego", policy),
	)
	q, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &PolicyGuard{query: q}, nil
}

// LoadPolicyGuard reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadPolicyGuard(ctx context.Context, path string) (*PolicyGuard, error) {
	if path == "" {
		return NewPolicyGuard(ctx, DefaultPolicy)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewPolicyGuard(ctx, string(b))
}

func (g *PolicyGuard) Check(ctx context.Context, tenantID uint64, query string) error {
	results, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{
		"query":     query,
		"tenant_id": tenantID,
	}))
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	decision, _ := results[0].Bindings["decision"].(string)
	reason, _ := results[0].Bindings["reason"].(string)
	if decision == "block" {
		if reason == "" {
			return ErrPolicyBlocked
		}
		return fmt.Errorf("%w: %s", ErrPolicyBlocked, reason)
	}
	return nil
}

// DefaultPolicy keeps administrative and housekeeping tables out of reach.
const DefaultPolicy = `
package sql_policy

default decision = "allow"
default reason = ""

restricted_tables = {
	"configs",
	"logs",
	"subscriptionFeatureGates",
	"scheduleCrons",
	"dailyActivities",
	"patientBills",
}

references_restricted {
	t := restricted_tables[_]
	regex.match(sprintf("(?i)\\b%s\\b", [t]), input.query)
}

references_system_schema {
	regex.match("(?i)\\bmysql\\s*\\.", input.query)
}

decision = "block" {
	references_restricted
}

decision = "block" {
	references_system_schema
}

reason = "administrative data is not available" {
	references_restricted
}

reason = "system schema is not available" {
	not references_restricted
	references_system_schema
}
`
