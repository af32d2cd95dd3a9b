package expr

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// EvaluationError reports a grammar violation, an unresolvable name or a
// disallowed operation. It is the only error type this package returns for
// expression evaluation.
type EvaluationError struct {
	Expr string
	Msg  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error in %q: %s", e.Expr, e.Msg)
}

// Scope is the variable environment an expression is evaluated against. The
// engine seeds it with the execution's variables plus the reserved roots
// "variables" and "context".
type Scope map[string]any

// builtins is the complete call whitelist. Nothing outside this table is
// callable, enforced by the parser before evaluation even starts.
var builtins = map[string]struct{}{
	"len": {}, "str": {}, "int": {}, "float": {}, "bool": {},
	"abs": {}, "min": {}, "max": {}, "sum": {}, "round": {},
	"lower": {}, "upper": {},
}

// Evaluate parses and evaluates a single expression against the scope. The
// grammar has no loops and no user-defined calls, so evaluation always
// terminates and performs no I/O.
func Evaluate(expression string, scope Scope) (any, error) {
	p, err := newParser(expression, false)
	if err != nil {
		return nil, err
	}
	ast, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	ev := &evaluator{src: expression, scope: scope}
	return ev.eval(ast)
}

// EvaluateBool evaluates an expression and coerces the result to a boolean
// using truthiness rules (empty string/list/map, zero and null are false).
func EvaluateBool(expression string, scope Scope) (bool, error) {
	v, err := Evaluate(expression, scope)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

type evaluator struct {
	src   string
	scope Scope
}

func (ev *evaluator) errorf(format string, args ...any) error {
	return &EvaluationError{Expr: ev.src, Msg: fmt.Sprintf(format, args...)}
}

func (ev *evaluator) eval(n node) (any, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.value, nil
	case *identNode:
		return ev.lookup(n.name)
	case *listNode:
		items := make([]any, len(n.items))
		for i, item := range n.items {
			v, err := ev.eval(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case *dictNode:
		d := make(map[string]any, len(n.keys))
		for i := range n.keys {
			k, err := ev.eval(n.keys[i])
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				return nil, ev.errorf("dict keys must be strings, got %T", k)
			}
			v, err := ev.eval(n.values[i])
			if err != nil {
				return nil, err
			}
			d[ks] = v
		}
		return d, nil
	case *attrNode:
		target, err := ev.eval(n.target)
		if err != nil {
			return nil, err
		}
		return ev.attr(target, n.name)
	case *indexNode:
		target, err := ev.eval(n.target)
		if err != nil {
			return nil, err
		}
		idx, err := ev.eval(n.index)
		if err != nil {
			return nil, err
		}
		return ev.index(target, idx)
	case *callNode:
		args := make([]any, len(n.args))
		for i, a := range n.args {
			v, err := ev.eval(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return ev.call(n.fn, args)
	case *unaryNode:
		operand, err := ev.eval(n.operand)
		if err != nil {
			return nil, err
		}
		return ev.unary(n.op, operand)
	case *binaryNode:
		return ev.binary(n)
	case *condNode:
		cond, err := ev.eval(n.cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return ev.eval(n.then)
		}
		return ev.eval(n.els)
	}
	return nil, ev.errorf("unknown node type %T", n)
}

func (ev *evaluator) lookup(name string) (any, error) {
	if v, ok := ev.scope[name]; ok {
		return v, nil
	}
	// reserved roots let bare names fall through into them
	for _, root := range []string{"variables", "context"} {
		if m, ok := ev.scope[root].(map[string]any); ok {
			if v, ok := m[name]; ok {
				return v, nil
			}
		}
	}
	return nil, ev.errorf("unknown identifier %q", name)
}

// attr resolves map keys and exported struct fields. Underscore-prefixed
// names never get here: the parser rejects them.
func (ev *evaluator) attr(target any, name string) (any, error) {
	switch t := target.(type) {
	case map[string]any:
		if v, ok := t[name]; ok {
			return v, nil
		}
		return nil, ev.errorf("attribute %q not found", name)
	case Scope:
		if v, ok := t[name]; ok {
			return v, nil
		}
		return nil, ev.errorf("attribute %q not found", name)
	case nil:
		return nil, ev.errorf("attribute access on null")
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		f := rv.FieldByName(name)
		if !f.IsValid() && name != "" {
			// tolerate lower-cased access to exported fields
			f = rv.FieldByName(strings.ToUpper(name[:1]) + name[1:])
		}
		if f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	return nil, ev.errorf("attribute %q not found on %T", name, target)
}

func (ev *evaluator) index(target, idx any) (any, error) {
	switch t := target.(type) {
	case []any:
		i, ok := toInt(idx)
		if !ok {
			return nil, ev.errorf("list index must be an integer, got %T", idx)
		}
		if i < 0 {
			i += int64(len(t))
		}
		if i < 0 || i >= int64(len(t)) {
			return nil, ev.errorf("list index %d out of range (len %d)", i, len(t))
		}
		return t[i], nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, ev.errorf("dict key must be a string, got %T", idx)
		}
		v, ok := t[key]
		if !ok {
			return nil, ev.errorf("key %q not found", key)
		}
		return v, nil
	case string:
		i, ok := toInt(idx)
		if !ok {
			return nil, ev.errorf("string index must be an integer, got %T", idx)
		}
		runes := []rune(t)
		if i < 0 {
			i += int64(len(runes))
		}
		if i < 0 || i >= int64(len(runes)) {
			return nil, ev.errorf("string index %d out of range", i)
		}
		return string(runes[i]), nil
	}
	return nil, ev.errorf("type %T is not subscriptable", target)
}

func (ev *evaluator) unary(op string, operand any) (any, error) {
	switch op {
	case "not":
		return !truthy(operand), nil
	case "-":
		if i, ok := operand.(int64); ok {
			return -i, nil
		}
		if f, ok := toFloat(operand); ok {
			return -f, nil
		}
		return nil, ev.errorf("unary - on %T", operand)
	case "+":
		if _, ok := toFloat(operand); ok {
			return operand, nil
		}
		return nil, ev.errorf("unary + on %T", operand)
	}
	return nil, ev.errorf("unknown unary operator %q", op)
}

func (ev *evaluator) binary(n *binaryNode) (any, error) {
	// and/or short-circuit before the right side is evaluated
	if n.op == "and" || n.op == "or" {
		left, err := ev.eval(n.left)
		if err != nil {
			return nil, err
		}
		if n.op == "and" && !truthy(left) {
			return left, nil
		}
		if n.op == "or" && truthy(left) {
			return left, nil
		}
		return ev.eval(n.right)
	}

	left, err := ev.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(n.right)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case "<", "<=", ">", ">=":
		return ev.compare(n.op, left, right)
	case "+":
		return ev.add(left, right)
	case "-", "*", "/", "//", "%", "**":
		return ev.arithmetic(n.op, left, right)
	}
	return nil, ev.errorf("unknown operator %q", n.op)
}

func (ev *evaluator) compare(op string, left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, ev.errorf("cannot compare %T and %T", left, right)
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, ev.errorf("unknown comparison %q", op)
}

func (ev *evaluator) add(left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return ls + rs, nil
		}
		return nil, ev.errorf("cannot add string and %T", right)
	}
	if ll, ok := left.([]any); ok {
		if rl, ok := right.([]any); ok {
			out := make([]any, 0, len(ll)+len(rl))
			return append(append(out, ll...), rl...), nil
		}
		return nil, ev.errorf("cannot add list and %T", right)
	}
	return ev.arithmetic("+", left, right)
}

// arithmetic applies numeric promotion: two ints stay integral (except for
// true division), anything involving a float goes float.
func (ev *evaluator) arithmetic(op string, left, right any) (any, error) {
	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, ev.errorf("division by zero")
			}
			return float64(li) / float64(ri), nil
		case "//":
			if ri == 0 {
				return nil, ev.errorf("division by zero")
			}
			return int64(math.Floor(float64(li) / float64(ri))), nil
		case "%":
			if ri == 0 {
				return nil, ev.errorf("modulo by zero")
			}
			return li % ri, nil
		case "**":
			if ri < 0 {
				return math.Pow(float64(li), float64(ri)), nil
			}
			return int64(math.Pow(float64(li), float64(ri))), nil
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, ev.errorf("cannot apply %q to %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, ev.errorf("division by zero")
		}
		return lf / rf, nil
	case "//":
		if rf == 0 {
			return nil, ev.errorf("division by zero")
		}
		return math.Floor(lf / rf), nil
	case "%":
		if rf == 0 {
			return nil, ev.errorf("modulo by zero")
		}
		return math.Mod(lf, rf), nil
	case "**":
		return math.Pow(lf, rf), nil
	}
	return nil, ev.errorf("unknown operator %q", op)
}

func (ev *evaluator) call(fn string, args []any) (any, error) {
	arity := func(n int) error {
		if len(args) != n {
			return ev.errorf("%s() takes %d argument(s), got %d", fn, n, len(args))
		}
		return nil
	}
	switch fn {
	case "len":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case string:
			return int64(len([]rune(v))), nil
		case []any:
			return int64(len(v)), nil
		case map[string]any:
			return int64(len(v)), nil
		}
		return nil, ev.errorf("len() on %T", args[0])
	case "str":
		if err := arity(1); err != nil {
			return nil, err
		}
		return Stringify(args[0]), nil
	case "int":
		if err := arity(1); err != nil {
			return nil, err
		}
		switch v := args[0].(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			var i int64
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &i); err != nil {
				return nil, ev.errorf("int() cannot parse %q", v)
			}
			return i, nil
		}
		return nil, ev.errorf("int() on %T", args[0])
	case "float":
		if err := arity(1); err != nil {
			return nil, err
		}
		if f, ok := toFloat(args[0]); ok {
			return f, nil
		}
		if s, ok := args[0].(string); ok {
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
				return nil, ev.errorf("float() cannot parse %q", s)
			}
			return f, nil
		}
		return nil, ev.errorf("float() on %T", args[0])
	case "bool":
		if err := arity(1); err != nil {
			return nil, err
		}
		return truthy(args[0]), nil
	case "abs":
		if err := arity(1); err != nil {
			return nil, err
		}
		if i, ok := args[0].(int64); ok {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		if f, ok := toFloat(args[0]); ok {
			return math.Abs(f), nil
		}
		return nil, ev.errorf("abs() on %T", args[0])
	case "min", "max":
		vals := args
		if len(args) == 1 {
			lst, ok := args[0].([]any)
			if !ok {
				return nil, ev.errorf("%s() single argument must be a list", fn)
			}
			vals = lst
		}
		if len(vals) == 0 {
			return nil, ev.errorf("%s() of empty sequence", fn)
		}
		best := vals[0]
		for _, v := range vals[1:] {
			cmp, err := ev.compare("<", v, best)
			if err != nil {
				return nil, err
			}
			less := cmp.(bool)
			if (fn == "min" && less) || (fn == "max" && !less) {
				best = v
			}
		}
		return best, nil
	case "sum":
		if err := arity(1); err != nil {
			return nil, err
		}
		lst, ok := args[0].([]any)
		if !ok {
			return nil, ev.errorf("sum() argument must be a list")
		}
		allInt := true
		var fsum float64
		var isum int64
		for _, v := range lst {
			if i, ok := v.(int64); ok {
				isum += i
				fsum += float64(i)
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				return nil, ev.errorf("sum() of non-numeric element %T", v)
			}
			allInt = false
			fsum += f
		}
		if allInt {
			return isum, nil
		}
		return fsum, nil
	case "round":
		if len(args) != 1 && len(args) != 2 {
			return nil, ev.errorf("round() takes 1 or 2 arguments, got %d", len(args))
		}
		f, ok := toFloat(args[0])
		if !ok {
			return nil, ev.errorf("round() on %T", args[0])
		}
		if len(args) == 1 {
			return int64(math.Round(f)), nil
		}
		nd, ok := toInt(args[1])
		if !ok {
			return nil, ev.errorf("round() digits must be an integer")
		}
		shift := math.Pow(10, float64(nd))
		return math.Round(f*shift) / shift, nil
	case "lower":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, ev.errorf("lower() on %T", args[0])
		}
		return strings.ToLower(s), nil
	case "upper":
		if err := arity(1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, ev.errorf("upper() on %T", args[0])
		}
		return strings.ToUpper(s), nil
	}
	return nil, ev.errorf("call to %q is not allowed", fn)
}

// Stringify renders a value the way the expression language does.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return formatFloat(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

func toInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
