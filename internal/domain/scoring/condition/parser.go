package condition

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokOp
	tokString
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, string(runes[i : i+2]), i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
		case ch == '"' || ch == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(runes) && runes[j] != ch {
				if runes[j] == '\\' && j+1 < len(runes) {
					j++
				}
				sb.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1
		case unicode.IsDigit(ch) || (ch == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j]), i})
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := i
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word), i})
			default:
				tokens = append(tokens, token{tokWord, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(runes)})
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

// Parse compiles src into an expression tree. Regex patterns used with
// `matches` are compiled here so evaluation cannot fail on them.
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}
	return expr, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(src string) Expr {
	expr, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return expr
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	var op Operator
	switch {
	case t.kind == tokOp:
		op = Operator(t.val)
	case t.kind == tokWord && strings.EqualFold(t.val, "contains"):
		op = OpContains
	case t.kind == tokWord && strings.EqualFold(t.val, "matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	cmp := &ComparisonExpr{Left: left, Op: op, Right: right}
	if op == OpMatches {
		lit, ok := right.(*Literal)
		pattern, isString := lit.valueString()
		if !ok || !isString {
			return nil, fmt.Errorf("matches requires a string pattern at position %d", t.pos)
		}
		cmp.re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}
	return cmp, nil
}

func (l *Literal) valueString() (string, bool) {
	if l == nil {
		return "", false
	}
	s, ok := l.Value.(string)
	return s, ok
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return &Literal{Value: t.val}, nil
	case tokNumber:
		lit, err := decimalLiteral(t.val)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return lit, nil
	case tokBool:
		return &Literal{Value: t.val == "true"}, nil
	case tokWord:
		return &Field{Path: strings.Split(t.val, ".")}, nil
	default:
		return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}
