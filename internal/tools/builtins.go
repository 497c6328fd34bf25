package tools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/expr-lang/expr"
)

type calculateArgs struct {
	Expression string `json:"expression"`
}

var calculatorEnv = map[string]any{
	"pi":   math.Pi,
	"e":    math.E,
	"sqrt": math.Sqrt,
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"log":  math.Log10,
	"ln":   math.Log,
	"pow":  math.Pow,
}

// Calculate evaluates an arithmetic expression. Evaluation errors are reported as result text
// so the model can relay them.
func Calculate() Tool {
	return NewFunc(Definition{
		Name:        "calculate",
		Description: "Evaluate a mathematical expression. Supports + - * / % ^, parentheses, pi, e, sqrt, sin, cos, tan, log, ln, pow, abs, round, floor, ceil.",
		Parameters: ObjectSchema(map[string]any{
			"expression": map[string]any{"type": "string", "description": "The expression to evaluate, for example (3 + 4) * 2"},
		}),
	}, func(_ context.Context, args calculateArgs) (string, error) {
		expression := strings.TrimSpace(args.Expression)
		if expression == "" {
			return "Error: the expression is empty. Tell the user there was nothing to calculate.", nil
		}
		out, err := expr.Eval(expression, calculatorEnv)
		if err != nil {
			return fmt.Sprintf("Error evaluating %q: %v. Tell the user there was an error in the calculation.", expression, err), nil
		}
		return formatNumber(out), nil
	})
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return fmt.Sprint(n)
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%.10g", n)
	default:
		return fmt.Sprint(v)
	}
}

// DateTime reports the local date and time.
func DateTime(now func() time.Time) Tool {
	if now == nil {
		now = time.Now
	}
	return NewFunc(Definition{
		Name:        "get_datetime",
		Description: "Get the current local date and time.",
	}, func(context.Context, NoArgs) (string, error) {
		return now().Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
	})
}

// Clipboard returns the text currently on the system clipboard.
func Clipboard() Tool {
	return NewFunc(Definition{
		Name:        "get_clipboard",
		Description: "Read the text currently copied to the user's clipboard.",
	}, func(context.Context, NoArgs) (string, error) {
		text, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("read clipboard: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return "The clipboard is empty.", nil
		}
		return text, nil
	})
}
