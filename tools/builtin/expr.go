package builtin

import (
	"errors"
	"fmt"
	"strconv"
)

// allowedExprChars is the full character set calculate_expression accepts.
const allowedExprChars = "0123456789+-*/.() "

var errDivisionByZero = errors.New("division by zero")

// evalExpression evaluates an arithmetic expression with a recursive
// descent parser. Grammar:
//
//	expr   = term { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = ("+" | "-") factor | number | "(" expr ")"
func evalExpression(expression string) (float64, error) {
	p := &exprParser{input: expression}
	if _, ok := p.peek(); !ok {
		return 0, fmt.Errorf("syntax error in expression %q: empty expression", expression)
	}
	v, err := p.parseExpr()
	if err != nil {
		if errors.Is(err, errDivisionByZero) {
			return 0, fmt.Errorf("division by zero in expression %q", expression)
		}
		return 0, fmt.Errorf("syntax error in expression %q: %v", expression, err)
	}
	if c, ok := p.peek(); ok {
		return 0, fmt.Errorf("syntax error in expression %q: unexpected %q", expression, string(c))
	}
	return v, nil
}

// formatNumber renders results the way a calculator would: integers
// without a decimal point, fractions with their shortest form.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type exprParser struct {
	input string
	pos   int
}

// peek skips spaces and returns the next significant byte, if any.
func (p *exprParser) peek() (byte, bool) {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *exprParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			v += rhs
		} else {
			v -= rhs
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return v, nil
		}
		p.pos++
		rhs, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			v *= rhs
			continue
		}
		if rhs == 0 {
			return 0, errDivisionByZero
		}
		v /= rhs
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	switch {
	case c == '+':
		p.pos++
		return p.parseFactor()
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if c, ok := p.peek(); !ok || c != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case ('0' <= c && c <= '9') || c == '.':
		return p.parseNumber()
	default:
		return 0, fmt.Errorf("unexpected %q", string(c))
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if ('0' <= c && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return f, nil
}
