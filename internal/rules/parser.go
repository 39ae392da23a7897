package rules

import (
	"fmt"
	"strconv"
)

// The AST mirrors the grammar: service { match /path { match…; allow op:
// if expr; } }. Node indexes point at the source character offset for error
// reporting.

type pathSegment struct {
	name     string
	variable bool
}

type valueKind int

const (
	valueNull valueKind = iota
	valueTrue
	valueFalse
	valueNumber
	valueString
	valueVariable
)

type valueNode struct {
	idx    int
	kind   valueKind
	number float64
	text   string
}

func (valueNode) isExpr() {}

type exprNode struct {
	idx      int
	operator string
	left     exprOrValue
	right    exprOrValue
}

func (exprNode) isExpr() {}

// exprOrValue is either a valueNode or an exprNode.
type exprOrValue interface{ isExpr() }

type allowNode struct {
	idx        int
	operations []string
	condition  exprOrValue
}

type matchNode struct {
	idx     int
	path    []pathSegment
	matches []*matchNode
	rules   []allowNode
}

type serviceNode struct {
	idx     int
	name    string
	matches []*matchNode
}

// parserError carries the offending token so Compile can map its position.
type parserError struct {
	message string
	index   int
}

func (e *parserError) Error() string { return e.message }

type parser struct {
	tokens []Token
	pos    int
	length int
}

// parse consumes the token stream with one token of lookahead and produces
// the service statements.
func parse(tokens []Token, sourceLen int) ([]serviceNode, error) {
	p := &parser{tokens: tokens, length: sourceLen}
	var services []serviceNode
	for p.current() != nil {
		service, err := p.parseService()
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}
	return services, nil
}

func (p *parser) current() *Token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) next() *Token {
	if p.pos+1 < len(p.tokens) {
		return &p.tokens[p.pos+1]
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	index := p.length
	if tok := p.current(); tok != nil {
		index = tok.Start
	}
	return &parserError{message: fmt.Sprintf(format, args...), index: index}
}

// eat consumes the current token, optionally asserting its value, and
// returns its source index.
func (p *parser) eat(value string) (int, error) {
	tok := p.current()
	if tok == nil {
		return 0, p.errorf("unexpected end of input, expected '%s'", value)
	}
	if value != "" && tok.Value != value {
		return 0, p.errorf("unexpected token value, expected '%s', received '%s'", value, tok.Value)
	}
	p.pos++
	return tok.Start, nil
}

func (p *parser) eatText() (string, int, error) {
	tok := p.current()
	if tok == nil || tok.Type != tokenText {
		return "", 0, p.errorf("unexpected token, expected text, received '%s'", p.currentValue())
	}
	p.pos++
	return tok.Value, tok.Start, nil
}

func (p *parser) currentValue() string {
	if tok := p.current(); tok != nil {
		return tok.Value
	}
	return "<eof>"
}

func (p *parser) parseService() (serviceNode, error) {
	idx, err := p.eat("service")
	if err != nil {
		return serviceNode{}, err
	}
	name, _, err := p.eatText()
	if err != nil {
		return serviceNode{}, err
	}
	if _, err := p.eat("{"); err != nil {
		return serviceNode{}, err
	}
	var matches []*matchNode
	for tok := p.current(); tok != nil && tok.Value == "match"; tok = p.current() {
		match, err := p.parseMatch()
		if err != nil {
			return serviceNode{}, err
		}
		matches = append(matches, match)
	}
	if _, err := p.eat("}"); err != nil {
		return serviceNode{}, err
	}
	return serviceNode{idx: idx, name: name, matches: matches}, nil
}

func (p *parser) parseMatch() (*matchNode, error) {
	idx, err := p.eat("match")
	if err != nil {
		return nil, err
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	if _, err := p.eat("{"); err != nil {
		return nil, err
	}

	node := &matchNode{idx: idx, path: path}
	for {
		tok := p.current()
		if tok == nil {
			return nil, p.errorf("unexpected end of input inside match block")
		}
		if tok.Type == tokenCurlyClose {
			break
		}
		switch tok.Value {
		case "match":
			sub, err := p.parseMatch()
			if err != nil {
				return nil, err
			}
			node.matches = append(node.matches, sub)
		case "allow":
			rule, err := p.parseAllow()
			if err != nil {
				return nil, err
			}
			node.rules = append(node.rules, rule)
		default:
			return nil, p.errorf("unexpected token value, expected 'match' or 'allow', received '%s'", tok.Value)
		}
	}
	if _, err := p.eat("}"); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parsePath() ([]pathSegment, error) {
	var segments []pathSegment
	for tok := p.current(); tok != nil && tok.Type == tokenSlash; tok = p.current() {
		if _, err := p.eat("/"); err != nil {
			return nil, err
		}
		cur := p.current()
		if cur == nil {
			break
		}
		if cur.Type == tokenCurlyOpen {
			next := p.next()
			if next == nil || next.Type != tokenText {
				return nil, p.errorf("expected variable name after '{'")
			}
			if _, err := p.eat("{"); err != nil {
				return nil, err
			}
			name, _, err := p.eatText()
			if err != nil {
				return nil, err
			}
			if _, err := p.eat("}"); err != nil {
				return nil, err
			}
			segments = append(segments, pathSegment{name: name, variable: true})
		} else if cur.Type == tokenText {
			name, _, err := p.eatText()
			if err != nil {
				return nil, err
			}
			segments = append(segments, pathSegment{name: name})
		}
	}
	return segments, nil
}

func (p *parser) parseAllow() (allowNode, error) {
	idx, err := p.eat("allow")
	if err != nil {
		return allowNode{}, err
	}

	var operations []string
	for {
		tok := p.current()
		if tok == nil {
			return allowNode{}, p.errorf("unexpected end of input in allow statement")
		}
		if tok.Type == tokenColon {
			break
		}
		operation, _, err := p.eatText()
		if err != nil {
			return allowNode{}, err
		}
		operations = append(operations, operation)
		if cur := p.current(); cur != nil && cur.Type == tokenComma {
			if _, err := p.eat(","); err != nil {
				return allowNode{}, err
			}
			continue
		}
		break
	}

	if _, err := p.eat(":"); err != nil {
		return allowNode{}, err
	}
	if _, err := p.eat("if"); err != nil {
		return allowNode{}, err
	}
	condition, err := p.parseCondition()
	if err != nil {
		return allowNode{}, err
	}
	if _, err := p.eat(";"); err != nil {
		return allowNode{}, err
	}
	return allowNode{idx: idx, operations: operations, condition: condition}, nil
}

// parseCondition parses a right-recursive combination of comparison and
// logic operators over values and parenthesized subexpressions.
func (p *parser) parseCondition() (exprOrValue, error) {
	tok := p.current()
	if tok == nil {
		return nil, p.errorf("unexpected end of input in condition")
	}
	idx := tok.Start

	var left exprOrValue
	var err error
	if tok.Type == tokenBracketOpen {
		if _, err := p.eat("("); err != nil {
			return nil, err
		}
		left, err = p.parseCondition()
		if err != nil {
			return nil, err
		}
		if _, err := p.eat(")"); err != nil {
			return nil, err
		}
	} else {
		left, err = p.parseValue()
		if err != nil {
			return nil, err
		}
	}

	cur := p.current()
	switch {
	case cur != nil && cur.Type == tokenComparisonOperator:
		operator := cur.Value
		if _, err := p.eat(""); err != nil {
			return nil, err
		}
		var right exprOrValue
		if nxt := p.current(); nxt != nil && nxt.Type == tokenBracketOpen {
			if _, err := p.eat("("); err != nil {
				return nil, err
			}
			right, err = p.parseCondition()
			if err != nil {
				return nil, err
			}
			if _, err := p.eat(")"); err != nil {
				return nil, err
			}
		} else {
			right, err = p.parseValue()
			if err != nil {
				return nil, err
			}
		}
		return exprNode{idx: idx, operator: operator, left: left, right: right}, nil
	case cur != nil && cur.Type == tokenLogicOperator:
		operator := cur.Value
		if _, err := p.eat(""); err != nil {
			return nil, err
		}
		right, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		return exprNode{idx: idx, operator: operator, left: left, right: right}, nil
	default:
		return left, nil
	}
}

func (p *parser) parseValue() (valueNode, error) {
	tok := p.current()
	if tok == nil {
		return valueNode{}, p.errorf("unexpected end of input, expected value")
	}
	idx := tok.Start

	switch tok.Type {
	case tokenKeyword:
		var kind valueKind
		switch tok.Value {
		case "true":
			kind = valueTrue
		case "false":
			kind = valueFalse
		case "null":
			kind = valueNull
		default:
			return valueNode{}, p.errorf("invalid keyword at this position '%s'", tok.Value)
		}
		p.pos++
		return valueNode{idx: idx, kind: kind}, nil
	case tokenString:
		p.pos++
		return valueNode{idx: idx, kind: valueString, text: tok.Value[1 : len(tok.Value)-1]}, nil
	case tokenNumber:
		number, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return valueNode{}, p.errorf("value cannot be parsed as number: '%s'", tok.Value)
		}
		p.pos++
		return valueNode{idx: idx, kind: valueNumber, number: number}, nil
	case tokenText:
		p.pos++
		return valueNode{idx: idx, kind: valueVariable, text: tok.Value}, nil
	default:
		return valueNode{}, p.errorf("expected value, got '%s'", tok.Value)
	}
}
