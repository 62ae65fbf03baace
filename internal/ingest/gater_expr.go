package ingest

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/agentjido/jido-messaging/internal/model"
)

// ExprGater evaluates a boolean expr-lang rule against a message
// environment; a false result denies with the configured reason.
// Grounded on the expression-based rule idiom spec.md implies for
// gater configuration ("ordered list of gaters") without mandating a
// concrete DSL; expr-lang gives callers a safe, sandboxed rule
// language instead of hand-rolled Go predicates per deployment.
type ExprGater struct {
	name        string
	program     *vm.Program
	reason      string
	description string
}

// NewExprGater compiles rule once; rule must evaluate to a bool given
// an env of {text, sender_id, role, external_id}.
func NewExprGater(name, rule, reason, description string) (*ExprGater, error) {
	program, err := expr.Compile(rule, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("ingest: compile gater %q: %w", name, err)
	}
	return &ExprGater{name: name, program: program, reason: reason, description: description}, nil
}

func (g *ExprGater) Name() string { return g.name }

func (g *ExprGater) Evaluate(ctx context.Context, msg model.Message) (GaterResult, error) {
	out, err := expr.Run(g.program, gaterEnv(msg))
	if err != nil {
		return GaterResult{}, err
	}
	allowed, _ := out.(bool)
	if allowed {
		return GaterResult{Decision: GaterAllow}, nil
	}
	return GaterResult{Decision: GaterDeny, Reason: g.reason, Description: g.description}, nil
}

// gaterEnv builds the expression environment a gater rule evaluates
// against.
func gaterEnv(msg model.Message) map[string]any {
	return map[string]any{
		"text":        msg.Text(),
		"sender_id":   msg.SenderID,
		"role":        string(msg.Role),
		"external_id": msg.ExternalID,
	}
}
