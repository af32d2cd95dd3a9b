package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// The AST is a closed set of node types. There are no loop, assignment (only
// at statement level in script mode), import or definition constructs, so any
// parsed program terminates by construction.

type node interface{}

type literalNode struct{ value any }
type identNode struct{ name string }
type listNode struct{ items []node }
type dictNode struct {
	keys   []node
	values []node
}
type attrNode struct {
	target node
	name   string
}
type indexNode struct {
	target node
	index  node
}
type callNode struct {
	fn   string // whitelisted function name; calls are only valid on bare names
	args []node
}
type unaryNode struct {
	op      string
	operand node
}
type binaryNode struct {
	op          string
	left, right node
}
type condNode struct {
	cond, then, els node
}

// statement is one line of a script: `name = expr` or a bare expression.
type statement struct {
	assign string // "" for a bare expression
	expr   node
}

const maxParseDepth = 64

type parser struct {
	src   string
	toks  []token
	pos   int
	depth int
}

func newParser(src string, script bool) (*parser, error) {
	toks, err := (&lexer{src: src, script: script}).tokens()
	if err != nil {
		return nil, err
	}
	return &parser{src: src, toks: toks}, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &EvaluationError{Expr: p.src, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) matchOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.advance()
			return op, true
		}
	}
	return "", false
}

func (p *parser) matchKeyword(kw string) bool {
	t := p.peek()
	if t.kind == tokKeyword && t.text == kw {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	t := p.peek()
	if t.kind == tokOp && t.text == op {
		p.advance()
		return nil
	}
	return p.errorf("expected %q at position %d, got %q", op, t.pos, t.text)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxParseDepth {
		return p.errorf("expression nests too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// parseExpression parses a single expression and requires EOF after it.
func (p *parser) parseExpression() (node, error) {
	n, err := p.conditional()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected trailing input at position %d: %q", t.pos, t.text)
	}
	return n, nil
}

// parseScript parses a sequence of newline/semicolon-separated statements.
func (p *parser) parseScript() ([]statement, error) {
	var stmts []statement
	for {
		for p.peek().kind == tokNewline {
			p.advance()
		}
		if p.peek().kind == tokEOF {
			return stmts, nil
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, st)
		switch t := p.peek(); t.kind {
		case tokNewline:
			p.advance()
		case tokEOF:
		default:
			return nil, p.errorf("unexpected token %q at position %d", t.text, t.pos)
		}
	}
}

func (p *parser) parseStatement() (statement, error) {
	// assignment: IDENT '=' expr (single '=' only appears at statement level)
	if p.peek().kind == tokIdent && p.pos+1 < len(p.toks) &&
		p.toks[p.pos+1].kind == tokOp && p.toks[p.pos+1].text == "=" {
		name := p.advance().text
		p.advance() // '='
		if strings.HasPrefix(name, "_") {
			return statement{}, p.errorf("assignment to underscore-prefixed name %q is not allowed", name)
		}
		n, err := p.conditional()
		if err != nil {
			return statement{}, err
		}
		return statement{assign: name, expr: n}, nil
	}
	n, err := p.conditional()
	if err != nil {
		return statement{}, err
	}
	return statement{expr: n}, nil
}

// conditional: or ("if" or "else" conditional)?
func (p *parser) conditional() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	then, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("if") {
		return then, nil
	}
	cond, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("else") {
		return nil, p.errorf("conditional expression missing 'else'")
	}
	els, err := p.conditional()
	if err != nil {
		return nil, err
	}
	return &condNode{cond: cond, then: then, els: els}, nil
}

func (p *parser) orExpr() (node, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("or") {
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) andExpr() (node, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("and") {
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) notExpr() (node, error) {
	if p.matchKeyword("not") {
		operand, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: operand}, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (node, error) {
	left, err := p.arith()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("==", "!=", "<=", ">=", "<", ">")
		if !ok {
			return left, nil
		}
		right, err := p.arith()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) arith() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.power()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.matchOp("*", "//", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.power()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// power is right-associative: 2**3**2 == 2**(3**2)
func (p *parser) power() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.matchOp("**"); ok {
		right, err := p.power()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "**", left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if op, ok := p.matchOp("-", "+"); ok {
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.postfix()
}

// postfix handles attribute access, subscripting and calls. Calls are only
// legal directly on a bare identifier, which keeps "obtain a function value,
// then call it" out of the grammar entirely.
func (p *parser) postfix() (node, error) {
	prim, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.matchOp("."); ok {
			t := p.peek()
			if t.kind != tokIdent {
				return nil, p.errorf("expected attribute name at position %d", t.pos)
			}
			p.advance()
			if strings.HasPrefix(t.text, "_") {
				return nil, p.errorf("access to underscore-prefixed attribute %q is not allowed", t.text)
			}
			prim = &attrNode{target: prim, name: t.text}
			continue
		}
		if _, ok := p.matchOp("["); ok {
			idx, err := p.conditional()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			prim = &indexNode{target: prim, index: idx}
			continue
		}
		if p.peek().kind == tokOp && p.peek().text == "(" {
			ident, ok := prim.(*identNode)
			if !ok {
				return nil, p.errorf("only whitelisted functions may be called")
			}
			if _, ok := builtins[ident.name]; !ok {
				return nil, p.errorf("call to %q is not allowed", ident.name)
			}
			p.advance() // '('
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			prim = &callNode{fn: ident.name, args: args}
			continue
		}
		return prim, nil
	}
}

func (p *parser) callArgs() ([]node, error) {
	var args []node
	if _, ok := p.matchOp(")"); ok {
		return args, nil
	}
	for {
		arg, err := p.conditional()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if _, ok := p.matchOp(","); ok {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) primary() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	t := p.peek()
	switch t.kind {
	case tokInt:
		p.advance()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer %q", t.text)
		}
		return &literalNode{value: v}, nil
	case tokFloat:
		p.advance()
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", t.text)
		}
		return &literalNode{value: v}, nil
	case tokString:
		p.advance()
		return &literalNode{value: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "true":
			p.advance()
			return &literalNode{value: true}, nil
		case "false":
			p.advance()
			return &literalNode{value: false}, nil
		case "null":
			p.advance()
			return &literalNode{value: nil}, nil
		}
		return nil, p.errorf("unexpected keyword %q at position %d", t.text, t.pos)
	case tokIdent:
		p.advance()
		if strings.HasPrefix(t.text, "_") {
			return nil, p.errorf("underscore-prefixed name %q is not allowed", t.text)
		}
		return &identNode{name: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			p.advance()
			inner, err := p.conditional()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return p.listLiteral()
		case "{":
			return p.dictLiteral()
		}
	}
	return nil, p.errorf("unexpected token %q at position %d", t.text, t.pos)
}

func (p *parser) listLiteral() (node, error) {
	p.advance() // '['
	lst := &listNode{}
	if _, ok := p.matchOp("]"); ok {
		return lst, nil
	}
	for {
		item, err := p.conditional()
		if err != nil {
			return nil, err
		}
		lst.items = append(lst.items, item)
		if _, ok := p.matchOp(","); ok {
			if _, done := p.matchOp("]"); done { // trailing comma
				return lst, nil
			}
			continue
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return lst, nil
	}
}

func (p *parser) dictLiteral() (node, error) {
	p.advance() // '{'
	d := &dictNode{}
	if _, ok := p.matchOp("}"); ok {
		return d, nil
	}
	for {
		key, err := p.conditional()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(":"); err != nil {
			return nil, err
		}
		val, err := p.conditional()
		if err != nil {
			return nil, err
		}
		d.keys = append(d.keys, key)
		d.values = append(d.values, val)
		if _, ok := p.matchOp(","); ok {
			if _, done := p.matchOp("}"); done {
				return d, nil
			}
			continue
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return d, nil
	}
}
