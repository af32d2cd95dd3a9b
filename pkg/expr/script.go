package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// ScriptRejectedError reports a script that failed pre-validation: a
// deny-listed name, the size cap, or an underscore-prefixed access. The
// script is never evaluated once rejected.
type ScriptRejectedError struct {
	Reason string
}

func (e *ScriptRejectedError) Error() string {
	return fmt.Sprintf("script rejected: %s", e.Reason)
}

// MaxScriptLength caps script size before any parsing happens.
const MaxScriptLength = 10_000

// denyList contains names whose mere presence rejects a script, before the
// parser sees it. The grammar could not execute any of them anyway; the scan
// exists so a hostile script fails loudly at validation rather than
// confusingly at parse time, and stays rejected even if the grammar grows.
var denyList = []string{
	"import", "exec", "eval", "open", "file", "os", "sys", "subprocess",
	"getattr", "setattr", "delattr", "globals", "locals", "vars", "dir",
	"compile", "input", "memoryview", "classmethod", "staticmethod",
	"super", "type", "object", "lambda", "yield", "async", "await",
}

var scriptWordRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// ValidateScript runs the deny-list scan and the size cap. Matching is done
// on whole identifiers, case-insensitively, so surrounding whitespace or
// casing tricks do not get around it.
func ValidateScript(script string) error {
	if len(script) > MaxScriptLength {
		return &ScriptRejectedError{Reason: fmt.Sprintf("script exceeds %d characters", MaxScriptLength)}
	}
	for _, word := range scriptWordRe.FindAllString(script, -1) {
		lower := strings.ToLower(word)
		if strings.HasPrefix(lower, "__") {
			return &ScriptRejectedError{Reason: fmt.Sprintf("dunder identifier %q is not allowed", word)}
		}
		for _, denied := range denyList {
			if lower == denied {
				return &ScriptRejectedError{Reason: fmt.Sprintf("identifier %q is not allowed", word)}
			}
		}
	}
	return nil
}

// RunScript validates and executes a script: a sequence of newline- or
// semicolon-separated `name = expression` assignments and bare expressions in
// the same restricted grammar as Evaluate. The script runs against a copy of
// the given scope; the only value that escapes is the final "result" binding
// (or, when no statement assigned result, the value of the last bare
// expression).
func RunScript(script string, scope Scope) (any, error) {
	if err := ValidateScript(script); err != nil {
		return nil, err
	}
	p, err := newParser(script, true)
	if err != nil {
		return nil, err
	}
	stmts, err := p.parseScript()
	if err != nil {
		return nil, err
	}

	local := make(Scope, len(scope)+4)
	for k, v := range scope {
		local[k] = v
	}

	var last any
	resultAssigned := false
	for _, st := range stmts {
		ev := &evaluator{src: script, scope: local}
		v, err := ev.eval(st.expr)
		if err != nil {
			return nil, err
		}
		if st.assign != "" {
			local[st.assign] = v
			if st.assign == "result" {
				resultAssigned = true
			}
		} else {
			last = v
		}
	}
	if resultAssigned {
		return local["result"], nil
	}
	return last, nil
}
