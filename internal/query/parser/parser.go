// Package parser turns outpack query text into an AST.
//
// Grammar:
//
//	query           → toplevel EOF
//	toplevel        → body | "latest" | STRING
//	body            → expr ( ( "&&" | "||" ) expr )*
//	expr            → "!" expr | "(" body ")" | noArgFunc | singleArgFunc | infix
//	noArgFunc       → "latest" "(" ")"
//	singleArgFunc   → ( "latest" | "single" ) "(" body ")"
//	infix           → testValue ( "==" | "!=" | "<" | "<=" | ">" | ">=" ) testValue
//	testValue       → lookup | literal
//	lookup          → "id" | "name" | PARAMETER | THIS | ENVIRONMENT
//	literal         → STRING | NUMBER | BOOLEAN
//
// && and || have equal precedence and group left to right as written.
package parser

import (
	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/ast"
	"github.com/mrc-ide/outpack-server/internal/query/lexer"
)

// Parser transforms a stream of tokens into a query AST. Parsing stops at the
// first error; queries are short and a partial tree is never evaluated.
type Parser struct {
	tokens  []lexer.Token
	current int
	err     *ParseError
}

// New creates a new parser for the given token stream
func New(tokens []lexer.Token) *Parser {
	return &Parser{
		tokens:  tokens,
		current: 0,
	}
}

// Parse lexes and parses query text
func Parse(text string) (ast.Query, error) {
	tokens, lexErrors := lexer.New(text).ScanTokens()
	if len(lexErrors) > 0 {
		return nil, fromLexError(lexErrors[0])
	}

	q, err := New(tokens).Parse()
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Parse parses the token stream. The returned error is always a *ParseError.
func (p *Parser) Parse() (ast.Query, *ParseError) {
	q := p.parseToplevel()
	if p.err != nil {
		return nil, p.err
	}
	return q, nil
}

// parseToplevel handles the two shortforms before falling back to a body
func (p *Parser) parseToplevel() ast.Query {
	first := p.peek()
	if p.peekNext().Type == lexer.TOKEN_EOF {
		switch first.Type {
		case lexer.TOKEN_LATEST:
			p.advance()
			return &ast.ShortformLatest{Loc: ast.TokenLocation(first)}
		case lexer.TOKEN_STRING_LITERAL:
			p.advance()
			return &ast.ShortformID{ID: first.Literal.(string), Loc: ast.TokenLocation(first)}
		}
	}

	body := p.parseBody("expected query")
	if body == nil {
		return nil
	}

	if !p.isAtEnd() {
		if p.check(lexer.TOKEN_RPAREN) {
			p.error(p.peek(), "unexpected closing parenthesis")
		} else {
			p.error(p.peek(), "expected '&&', '||' or end of query")
		}
		return nil
	}

	return body
}

// parseBody parses a flat chain of expressions; expected is the message used
// if the first expression cannot start
func (p *Parser) parseBody(expected string) *ast.Body {
	first := p.parseExpr(expected)
	if first == nil {
		return nil
	}

	body := &ast.Body{
		First: first,
		Rest:  make([]ast.BoolTerm, 0),
		Loc:   first.Location(),
	}

	for p.match(lexer.TOKEN_DOUBLE_AMP, lexer.TOKEN_DOUBLE_PIPE) {
		op := ast.And
		if p.previous().Type == lexer.TOKEN_DOUBLE_PIPE {
			op = ast.Or
		}

		expr := p.parseExpr("expected expression")
		if expr == nil {
			return nil
		}
		body.Rest = append(body.Rest, ast.BoolTerm{Op: op, Expr: expr})
	}

	return body
}

// parseExpr parses a single operand of a body
func (p *Parser) parseExpr(expected string) ast.Expr {
	switch {
	case p.match(lexer.TOKEN_BANG):
		bang := p.previous()
		inner := p.parseExpr("expected expression after '!'")
		if inner == nil {
			return nil
		}
		return &ast.Negation{Inner: inner, Loc: ast.TokenLocation(bang)}

	case p.match(lexer.TOKEN_LPAREN):
		open := p.previous()
		inner := p.parseBody("expected expression")
		if inner == nil {
			return nil
		}
		if !p.match(lexer.TOKEN_RPAREN) {
			p.error(p.peek(), "expected closing parenthesis")
			return nil
		}
		return &ast.Brackets{Inner: inner, Loc: ast.TokenLocation(open)}

	case p.check(lexer.TOKEN_LATEST), p.check(lexer.TOKEN_SINGLE):
		return p.parseFunction()

	default:
		return p.parseInfix(expected)
	}
}

// parseFunction parses latest(), latest(body) and single(body)
func (p *Parser) parseFunction() ast.Expr {
	nameToken := p.advance()
	name := ast.FuncLatest
	if nameToken.Type == lexer.TOKEN_SINGLE {
		name = ast.FuncSingle
	}
	loc := ast.TokenLocation(nameToken)

	if !p.match(lexer.TOKEN_LPAREN) {
		p.error(p.peek(), "expected '(' after '"+name+"'")
		return nil
	}

	if name == ast.FuncLatest && p.match(lexer.TOKEN_RPAREN) {
		return &ast.NoArgFunc{Name: name, Loc: loc}
	}

	arg := p.parseBody("expected expression")
	if arg == nil {
		return nil
	}

	if !p.match(lexer.TOKEN_RPAREN) {
		p.error(p.peek(), "expected closing parenthesis")
		return nil
	}

	return &ast.SingleArgFunc{Name: name, Arg: arg, Loc: loc}
}

// parseInfix parses "testValue op testValue"
func (p *Parser) parseInfix(expected string) ast.Expr {
	lhs := p.parseTestValue(expected)
	if lhs == nil {
		return nil
	}

	opToken := p.peek()
	op, ok := comparisonOperators[opToken.Type]
	if !ok {
		p.error(opToken, "expected comparison operator")
		return nil
	}
	p.advance()

	rhs := p.parseTestValue("expected lookup or literal")
	if rhs == nil {
		return nil
	}

	return &ast.Infix{LHS: lhs, Op: op, RHS: rhs, Loc: lhs.Location()}
}

var comparisonOperators = map[lexer.TokenType]ast.Operator{
	lexer.TOKEN_EQ:  ast.Equal,
	lexer.TOKEN_NEQ: ast.NotEqual,
	lexer.TOKEN_LT:  ast.LessThan,
	lexer.TOKEN_LTE: ast.LessThanOrEqual,
	lexer.TOKEN_GT:  ast.GreaterThan,
	lexer.TOKEN_GTE: ast.GreaterThanOrEqual,
}

// parseTestValue parses a lookup or a literal
func (p *Parser) parseTestValue(expected string) ast.TestValue {
	tok := p.peek()
	loc := ast.TokenLocation(tok)

	switch tok.Type {
	case lexer.TOKEN_ID:
		p.advance()
		return &ast.Lookup{Kind: ast.LookupID, Loc: loc}
	case lexer.TOKEN_NAME:
		p.advance()
		return &ast.Lookup{Kind: ast.LookupName, Loc: loc}
	case lexer.TOKEN_PARAMETER:
		p.advance()
		return &ast.Lookup{Kind: ast.LookupParameter, Key: tok.Literal.(string), Loc: loc}
	case lexer.TOKEN_THIS:
		p.advance()
		return &ast.Lookup{Kind: ast.LookupThis, Key: tok.Literal.(string), Loc: loc}
	case lexer.TOKEN_ENVIRONMENT:
		p.advance()
		return &ast.Lookup{Kind: ast.LookupEnvironment, Key: tok.Literal.(string), Loc: loc}
	case lexer.TOKEN_STRING_LITERAL:
		p.advance()
		return &ast.Literal{Value: metadata.String(tok.Literal.(string)), Loc: loc}
	case lexer.TOKEN_NUMBER_LITERAL:
		p.advance()
		return &ast.Literal{Value: metadata.Number(tok.Literal.(float64)), Loc: loc}
	case lexer.TOKEN_TRUE, lexer.TOKEN_FALSE:
		p.advance()
		return &ast.Literal{Value: metadata.Bool(tok.Type == lexer.TOKEN_TRUE), Loc: loc}
	}

	p.error(tok, expected)
	return nil
}

// Token stream navigation

// peek returns the current token without advancing
func (p *Parser) peek() lexer.Token {
	if len(p.tokens) == 0 {
		return lexer.Token{Type: lexer.TOKEN_EOF}
	}
	if p.current >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.current]
}

// peekNext returns the token after the current one
func (p *Parser) peekNext() lexer.Token {
	if p.current+1 >= len(p.tokens) {
		return lexer.Token{Type: lexer.TOKEN_EOF}
	}
	return p.tokens[p.current+1]
}

// previous returns the most recently consumed token
func (p *Parser) previous() lexer.Token {
	if len(p.tokens) == 0 || p.current == 0 {
		return lexer.Token{Type: lexer.TOKEN_EOF}
	}
	return p.tokens[p.current-1]
}

// advance consumes the current token and returns it
func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.previous()
}

// check returns true if the current token matches the given type
func (p *Parser) check(tokenType lexer.TokenType) bool {
	if p.isAtEnd() {
		return false
	}
	return p.peek().Type == tokenType
}

// match consumes the token if it matches any of the given types
func (p *Parser) match(types ...lexer.TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

// isAtEnd returns true if we've reached the end of the token stream
func (p *Parser) isAtEnd() bool {
	return p.current >= len(p.tokens) || p.tokens[p.current].Type == lexer.TOKEN_EOF
}

// error records the first parse error; later ones are consequences of it
func (p *Parser) error(token lexer.Token, expected string) {
	if p.err == nil {
		p.err = NewParseError(expected, token)
	}
}
