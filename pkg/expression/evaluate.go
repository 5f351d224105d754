package expression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

var (
	ErrEmptyExpression = errors.New("empty expression")

	// ErrUnsupportedSyntax rejects function calls, predicates, ranges and variables.
	ErrUnsupportedSyntax = errors.New("unsupported expression syntax")
)

// maxNodes bounds the size of a condition.
const maxNodes = 256

// dottedIdentifiers rewrites member chains such as outputs.A.result into the
// single identifier "outputs.A.result" so they resolve against the flat map.
type dottedIdentifiers struct{}

func (dottedIdentifiers) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok || member.Optional || member.Method {
		return
	}

	base, ok := member.Node.(*ast.IdentifierNode)
	if !ok {
		return
	}

	property, ok := member.Property.(*ast.StringNode)
	if !ok {
		return
	}

	ast.Patch(node, &ast.IdentifierNode{Value: base.Value + "." + property.Value})
}

// restrictedGrammar limits conditions to comparisons, arithmetic and logic over the data.
type restrictedGrammar struct {
	err error
}

func (g *restrictedGrammar) Visit(node *ast.Node) {
	if g.err != nil {
		return
	}

	switch n := (*node).(type) {
	case *ast.CallNode:
		g.err = fmt.Errorf("%w: function call %s", ErrUnsupportedSyntax, n.String())
	case *ast.BuiltinNode:
		g.err = fmt.Errorf("%w: builtin %s", ErrUnsupportedSyntax, n.Name)
	case *ast.PredicateNode, *ast.PointerNode:
		g.err = fmt.Errorf("%w: closure", ErrUnsupportedSyntax)
	case *ast.VariableDeclaratorNode, *ast.SequenceNode:
		g.err = fmt.Errorf("%w: variables", ErrUnsupportedSyntax)
	case *ast.BinaryNode:
		if n.Operator == ".." {
			g.err = fmt.Errorf("%w: range", ErrUnsupportedSyntax)
		}
	}
}

// Evaluate compiles and runs condition against the flattened form of data.
// Only comparisons, arithmetic, boolean logic and string operators are accepted;
// function calls, closures and ranges fail with ErrUnsupportedSyntax.
// Unknown names, syntax errors and runtime errors are returned as errors.
func Evaluate(condition string, data map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, ErrEmptyExpression
	}

	env := Flatten(data)

	grammar := &restrictedGrammar{}

	program, err := expr.Compile(condition,
		expr.Env(env),
		expr.DisableAllBuiltins(),
		expr.MaxNodes(maxNodes),
		expr.Patch(grammar),
		expr.Patch(dottedIdentifiers{}),
	)
	if grammar.err != nil {
		return false, grammar.err
	}

	if err != nil {
		return false, fmt.Errorf("failed to compile condition: %w", err)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	return Truthy(result), nil
}

// EvaluateOrFalse is Evaluate with failures logged and reported as false.
func EvaluateOrFalse(ctx context.Context, logger *slog.Logger, condition string, data map[string]any) bool {
	result, err := Evaluate(condition, data)
	if err != nil {
		logger.WarnContext(ctx, "Condition evaluation failed, treating as false",
			"condition", condition,
			"error", err,
		)

		return false
	}

	return result
}

// Truthy converts an evaluation result to a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	default:
		if f, ok := toFloat(value); ok {
			return f != 0
		}

		return false
	}
}
