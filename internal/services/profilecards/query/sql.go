package query

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// SQLCondition is a WHERE clause fragment with positional parameters.
type SQLCondition struct {
	Clause string
	Params []any
}

// fieldMapping maps definition fields to search index columns.
var fieldMapping = map[string]string{
	"name":     "name",
	"template": "template",
	"language": "language",
	"path":     "path",
	"version":  "version",
	"updated":  "updated_at",
}

// SQL translates the definition into a condition over the search index
// table. A definition that matches everything yields "1 = 1".
func (d Definition) SQL() (SQLCondition, error) {
	if d.expr == nil {
		return SQLCondition{Clause: "1 = 1"}, nil
	}
	cond, err := translateExpr(d.expr)
	if err != nil {
		return SQLCondition{}, apperrors.Wrap(apperrors.CodeMalformedQuery, "translate search definition", err)
	}
	return cond, nil
}

func translateExpr(e *expr.Expr) (SQLCondition, error) {
	if e == nil {
		return SQLCondition{}, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	case *expr.Expr_IdentExpr:
		return SQLCondition{}, fmt.Errorf("bare field %q is not a condition", kind.IdentExpr.GetName())
	default:
		return SQLCondition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (SQLCondition, error) {
	switch call.Function {
	case "AND", "FUZZY":
		return translateJunction(call.Args, "AND")
	case "OR":
		return translateJunction(call.Args, "OR")
	case "NOT":
		return translateNot(call.Args)
	case "=", "!=", "<", "<=", ">", ">=":
		return translateComparison(call.Args, call.Function)
	case ":":
		return translateHas(call.Args)
	default:
		return SQLCondition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateJunction(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) < 2 {
		return SQLCondition{}, fmt.Errorf("%s requires at least 2 arguments", op)
	}
	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := translateExpr(arg)
		if err != nil {
			return SQLCondition{}, err
		}
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	return SQLCondition{
		Clause: "(" + strings.Join(clauses, " "+op+" ") + ")",
		Params: params,
	}, nil
}

func translateNot(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 1 {
		return SQLCondition{}, fmt.Errorf("NOT requires 1 argument")
	}
	inner, err := translateExpr(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	return SQLCondition{Clause: "(NOT " + inner.Clause + ")", Params: inner.Params}, nil
}

func translateComparison(args []*expr.Expr, op string) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	column, err := columnFor(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	if s, ok := value.(string); ok && column == "updated_at" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return SQLCondition{}, fmt.Errorf("invalid timestamp format: %s", s)
		}
		value = FormatTimestamp(t)
	}
	if op == "=" {
		if s, ok := value.(string); ok && strings.Contains(s, "*") && column != "updated_at" {
			return SQLCondition{Clause: column + " GLOB ?", Params: []any{s}}, nil
		}
	}
	return SQLCondition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

// translateHas maps `field:value` to a case-insensitive substring match.
func translateHas(args []*expr.Expr) (SQLCondition, error) {
	if len(args) != 2 {
		return SQLCondition{}, fmt.Errorf("has requires 2 arguments")
	}
	column, err := columnFor(args[0])
	if err != nil {
		return SQLCondition{}, err
	}
	value, err := extractValue(args[1])
	if err != nil {
		return SQLCondition{}, err
	}
	s, ok := value.(string)
	if !ok {
		return SQLCondition{}, fmt.Errorf("has requires a string value")
	}
	return SQLCondition{
		Clause: fmt.Sprintf("instr(lower(%s), lower(?)) > 0", column),
		Params: []any{s},
	}, nil
}

func columnFor(e *expr.Expr) (string, error) {
	ident, ok := e.GetExprKind().(*expr.Expr_IdentExpr)
	if !ok {
		return "", fmt.Errorf("expected field name, got %T", e.GetExprKind())
	}
	column, ok := fieldMapping[ident.IdentExpr.GetName()]
	if !ok {
		return "", fmt.Errorf("unknown field: %s", ident.IdentExpr.GetName())
	}
	return column, nil
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return extractTimestampValue(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.ConstantKind.(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

func extractTimestampValue(e *expr.Expr) (string, error) {
	constExpr, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return "", fmt.Errorf("timestamp argument must be a constant string")
	}
	str, ok := constExpr.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return "", fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, str.StringValue)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp format: %s", str.StringValue)
	}
	return FormatTimestamp(t), nil
}
