package query

import (
	"fmt"
	"strconv"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses filter expressions.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete filter expression.
func Parse(input string) (Expression, error) {
	p := NewParser(input)
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected trailing input")
	}
	return expr, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// parseExpression parses an | chain, the lowest precedence level.
func (p *Parser) parseExpression() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenOr) {
		p.nextToken()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "|", Left: left, Right: right}
	}
	return left, nil
}

// parseAnd parses an & chain, binding tighter than |.
func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.curTokenIs(TokenAnd) {
		p.nextToken()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "&", Left: left, Right: right}
	}
	return left, nil
}

// parseUnary parses ~ negations.
func (p *Parser) parseUnary() (Expression, error) {
	if p.curTokenIs(TokenNot) {
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses a parenthesized expression or a comparison.
func (p *Parser) parsePrimary() (Expression, error) {
	if p.curTokenIs(TokenLParen) {
		p.nextToken()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.curTokenIs(TokenRParen) {
			return nil, p.errorf("expected )")
		}
		p.nextToken()
		return expr, nil
	}
	return p.parseComparison()
}

// parseComparison parses "field op literal" or "field in [list]".
func (p *Parser) parseComparison() (Expression, error) {
	field, err := p.parseField()
	if err != nil {
		return nil, err
	}
	switch p.curToken.Type {
	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		op := p.curToken.Literal
		p.nextToken()
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Field: field, Op: op, Value: value}, nil
	case TokenIn:
		p.nextToken()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &InExpr{Field: field, Values: values}, nil
	default:
		return nil, p.errorf("expected a comparison operator or in")
	}
}

// parseField parses a dot-qualified field name.
func (p *Parser) parseField() (string, error) {
	if !p.curTokenIs(TokenIdent) {
		return "", p.errorf("expected a field name")
	}
	field := p.curToken.Literal
	p.nextToken()
	for p.curTokenIs(TokenDot) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) && !p.curTokenIs(TokenNumber) {
			return "", p.errorf("expected a field segment after '.'")
		}
		field += "." + p.curToken.Literal
		p.nextToken()
	}
	return field, nil
}

// parseLiteral parses a number, quoted string, True, False or None.
func (p *Parser) parseLiteral() (interface{}, error) {
	switch p.curToken.Type {
	case TokenNumber:
		f, err := strconv.ParseFloat(p.curToken.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.curToken.Literal)
		}
		p.nextToken()
		return f, nil
	case TokenString:
		s := p.curToken.Literal
		p.nextToken()
		return s, nil
	case TokenTrue:
		p.nextToken()
		return true, nil
	case TokenFalse:
		p.nextToken()
		return false, nil
	case TokenNone:
		p.nextToken()
		return nil, nil
	default:
		return nil, p.errorf("expected a literal value")
	}
}

// parseList parses a bracketed literal list.
func (p *Parser) parseList() ([]interface{}, error) {
	if !p.curTokenIs(TokenLBracket) {
		return nil, p.errorf("expected [")
	}
	p.nextToken()
	values := []interface{}{}
	if p.curTokenIs(TokenRBracket) {
		p.nextToken()
		return values, nil
	}
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	if !p.curTokenIs(TokenRBracket) {
		return nil, p.errorf("expected ]")
	}
	p.nextToken()
	return values, nil
}
