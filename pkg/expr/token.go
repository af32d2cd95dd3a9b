package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokString
	tokIdent
	tokKeyword // and or not if else true false null
	tokOp      // + - * / // % ** == != < <= > >= = ( ) [ ] { } , : .
	tokNewline // statement separator in script mode
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "if": {}, "else": {},
	"true": {}, "false": {}, "null": {},
}

// lexer tokenizes the restricted expression grammar. There is deliberately no
// way to tokenize anything beyond literals, names and the fixed operator set.
type lexer struct {
	src    string
	pos    int
	script bool // emit newline tokens as statement separators
}

func (l *lexer) errorf(format string, args ...any) error {
	return &EvaluationError{Expr: l.src, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) tokens() ([]token, error) {
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n' || c == ';':
			l.pos++
			if l.script {
				return token{kind: tokNewline, text: "\n", pos: l.pos - 1}, nil
			}
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return l.lexToken()
		}
	}
	return token{kind: tokEOF, pos: l.pos}, nil
}

func (l *lexer) lexToken() (token, error) {
	start := l.pos
	c := l.src[l.pos]

	if c >= '0' && c <= '9' || c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		return l.lexNumber()
	}
	if c == '"' || c == '\'' {
		return l.lexString(c)
	}
	if isIdentStart(rune(c)) {
		for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
			l.pos++
		}
		text := l.src[start:l.pos]
		if _, ok := keywords[strings.ToLower(text)]; ok {
			return token{kind: tokKeyword, text: strings.ToLower(text), pos: start}, nil
		}
		return token{kind: tokIdent, text: text, pos: start}, nil
	}

	// multi-char operators first
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "**", "//", "==", "!=", "<=", ">=":
		l.pos += 2
		return token{kind: tokOp, text: two, pos: start}, nil
	}
	switch c {
	case '+', '-', '*', '/', '%', '<', '>', '(', ')', '[', ']', '{', '}', ',', ':', '.', '=':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	}
	return token{}, l.errorf("unexpected character %q at position %d", string(c), start)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	isFloat := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isDigit(c) {
			l.pos++
		} else if c == '.' && !isFloat && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
			isFloat = true
			l.pos++
		} else if c == '.' && !isFloat && (l.pos+1 >= len(l.src) || !isIdentStart(rune(l.src[l.pos+1]))) {
			isFloat = true
			l.pos++
		} else {
			break
		}
	}
	kind := tokInt
	if isFloat {
		kind = tokFloat
	}
	return token{kind: kind, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, l.errorf("unterminated escape at position %d", l.pos)
			}
			l.pos++
			switch l.src[l.pos] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(l.src[l.pos])
			default:
				return token{}, l.errorf("unknown escape \\%c at position %d", l.src[l.pos], l.pos)
			}
			l.pos++
		case '\n':
			return token{}, l.errorf("unterminated string at position %d", start)
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf("unterminated string at position %d", start)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
