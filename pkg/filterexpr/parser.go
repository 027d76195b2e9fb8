// Package filterexpr parses Python-style filter expressions into
// MongoDB filter documents. The grammar is a strict whitelist: field
// paths, literals, comparisons, membership tests and boolean
// combinators. Anything else fails to parse, so expressions can never
// smuggle server-side execution operators into a query.
//
//	metadata.tag in ["prod", "staging"] and priority >= 10
//	  => {"$and": [{"metadata.tag": {"$in": [...]}}, {"priority": {"$gte": 10}}]}
package filterexpr

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenField
	tokenString
	tokenNumber
	tokenBool
	tokenNull
	tokenOp // == != < <= > >=
	tokenAnd
	tokenOr
	tokenNot
	tokenIn
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	isInt bool
	pos   int
}

// Parse converts a filter expression into a MongoDB filter document
func Parse(input string) (bson.M, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	filter, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return filter, nil
}

// lexer

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case c == '[':
			tokens = append(tokens, token{kind: tokenLBracket, text: "[", pos: i})
			i++
		case c == ']':
			tokens = append(tokens, token{kind: tokenRBracket, text: "]", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++

		case c == '=' || c == '!' || c == '<' || c == '>':
			op, width, err := lexOperator(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenOp, text: op, pos: i})
			i += width

		case c == '"' || c == '\'':
			text, width, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: text, pos: i})
			i += width

		case c >= '0' && c <= '9' || c == '-':
			tok, width, err := lexNumber(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += width

		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentPart(input[i]) {
				i++
			}
			word := input[start:i]
			tokens = append(tokens, keywordOrField(word, start))

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, text: "end of expression", pos: len(input)})
	return tokens, nil
}

func lexOperator(input string, i int) (string, int, error) {
	rest := input[i:]
	for _, op := range []string{"==", "!=", "<=", ">="} {
		if strings.HasPrefix(rest, op) {
			return op, 2, nil
		}
	}
	if rest[0] == '<' || rest[0] == '>' {
		return string(rest[0]), 1, nil
	}
	return "", 0, fmt.Errorf("unexpected character %q at position %d", rest[0], i)
}

func lexString(input string, i int) (string, int, error) {
	quote := input[i]
	var sb strings.Builder
	j := i + 1
	for j < len(input) {
		c := input[j]
		if c == '\\' && j+1 < len(input) {
			sb.WriteByte(input[j+1])
			j += 2
			continue
		}
		if c == quote {
			return sb.String(), j - i + 1, nil
		}
		sb.WriteByte(c)
		j++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", i)
}

func lexNumber(input string, i int) (token, int, error) {
	j := i
	if input[j] == '-' {
		j++
		if j >= len(input) || input[j] < '0' || input[j] > '9' {
			return token{}, 0, fmt.Errorf("unexpected character %q at position %d", '-', i)
		}
	}
	isInt := true
	for j < len(input) {
		c := input[j]
		if c >= '0' && c <= '9' {
			j++
			continue
		}
		if c == '.' && isInt {
			isInt = false
			j++
			continue
		}
		break
	}
	text := input[i:j]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, fmt.Errorf("invalid number %q at position %d", text, i)
	}
	return token{kind: tokenNumber, text: text, num: num, isInt: isInt, pos: i}, j - i, nil
}

func keywordOrField(word string, pos int) token {
	switch word {
	case "and":
		return token{kind: tokenAnd, text: word, pos: pos}
	case "or":
		return token{kind: tokenOr, text: word, pos: pos}
	case "not":
		return token{kind: tokenNot, text: word, pos: pos}
	case "in":
		return token{kind: tokenIn, text: word, pos: pos}
	case "true", "True":
		return token{kind: tokenBool, text: "true", pos: pos}
	case "false", "False":
		return token{kind: tokenBool, text: "false", pos: pos}
	case "null", "None":
		return token{kind: tokenNull, text: word, pos: pos}
	default:
		return token{kind: tokenField, text: word, pos: pos}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

// parser

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format+" at position %d", append(args, p.peek().pos)...)
}

func (p *parser) parseOr() (bson.M, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = bson.M{"$or": bson.A{left, right}}
	}
	return left, nil
}

func (p *parser) parseAnd() (bson.M, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = bson.M{"$and": bson.A{left, right}}
	}
	return left, nil
}

func (p *parser) parseNot() (bson.M, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (bson.M, error) {
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, p.errorf("expected ) but found %q", p.peek().text)
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

// parseComparison handles field-literal comparisons in either order
// plus membership tests. Field-to-field comparison needs $expr, which
// the sanitizer bans, so it is rejected here.
func (p *parser) parseComparison() (bson.M, error) {
	left, leftIsField, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := p.peek()
	switch op.kind {
	case tokenOp:
		p.next()
		right, rightIsField, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return buildComparison(op.text, left, leftIsField, right, rightIsField)

	case tokenIn:
		p.next()
		if !leftIsField {
			return nil, fmt.Errorf("left side of in must be a field at position %d", op.pos)
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return bson.M{left.(string): bson.M{"$in": list}}, nil

	default:
		return nil, p.errorf("expected comparison but found %q", p.peek().text)
	}
}

// parseOperand returns the operand value and whether it is a field path
func (p *parser) parseOperand() (interface{}, bool, error) {
	t := p.peek()
	switch t.kind {
	case tokenField:
		p.next()
		return t.text, true, nil
	case tokenString:
		p.next()
		return t.text, false, nil
	case tokenNumber:
		p.next()
		return numberValue(t), false, nil
	case tokenBool:
		p.next()
		return t.text == "true", false, nil
	case tokenNull:
		p.next()
		return nil, false, nil
	case tokenLBracket:
		list, err := p.parseList()
		return list, false, err
	default:
		return nil, false, p.errorf("expected field or literal but found %q", t.text)
	}
}

func (p *parser) parseList() (bson.A, error) {
	if p.peek().kind != tokenLBracket {
		return nil, p.errorf("expected list but found %q", p.peek().text)
	}
	p.next()

	list := bson.A{}
	if p.peek().kind == tokenRBracket {
		p.next()
		return list, nil
	}

	for {
		value, isField, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if isField {
			return nil, fmt.Errorf("lists may only contain literals, found field %q", value)
		}
		list = append(list, value)

		switch p.peek().kind {
		case tokenComma:
			p.next()
		case tokenRBracket:
			p.next()
			return list, nil
		default:
			return nil, p.errorf("expected , or ] but found %q", p.peek().text)
		}
	}
}

var mongoOps = map[string]string{
	"==": "$eq",
	"!=": "$ne",
	"<":  "$lt",
	"<=": "$lte",
	">":  "$gt",
	">=": "$gte",
}

// flippedOps rewrites literal-op-field comparisons to field form
var flippedOps = map[string]string{
	"==": "==",
	"!=": "!=",
	"<":  ">",
	"<=": ">=",
	">":  "<",
	">=": "<=",
}

func buildComparison(op string, left interface{}, leftIsField bool, right interface{}, rightIsField bool) (bson.M, error) {
	if leftIsField && rightIsField {
		return nil, fmt.Errorf("comparing two fields is not supported")
	}
	if !leftIsField && !rightIsField {
		return nil, fmt.Errorf("comparison requires a field on one side")
	}

	field, value := left, right
	if rightIsField {
		field, value = right, left
		op = flippedOps[op]
	}

	name := field.(string)
	if op == "==" {
		return bson.M{name: value}, nil
	}
	return bson.M{name: bson.M{mongoOps[op]: value}}, nil
}

func numberValue(t token) interface{} {
	if t.isInt {
		return int64(t.num)
	}
	return t.num
}
