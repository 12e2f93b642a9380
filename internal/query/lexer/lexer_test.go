package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scan(t *testing.T, source string) []Token {
	t.Helper()
	tokens, errs := New(source).ScanTokens()
	require.Empty(t, errs, "unexpected lex errors for %q", source)
	return tokens
}

func types(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func TestScanInfix(t *testing.T) {
	tokens := scan(t, `name == "foo"`)

	assert.Equal(t, []TokenType{TOKEN_NAME, TOKEN_EQ, TOKEN_STRING_LITERAL, TOKEN_EOF}, types(tokens))
	assert.Equal(t, "foo", tokens[2].Literal)
	assert.Equal(t, 0, tokens[0].Offset)
	assert.Equal(t, 5, tokens[1].Offset)
	assert.Equal(t, 8, tokens[2].Offset)
	assert.Equal(t, 13, tokens[3].Offset)
}

func TestScanOperators(t *testing.T) {
	tests := []struct {
		source   string
		expected TokenType
	}{
		{"==", TOKEN_EQ},
		{"!=", TOKEN_NEQ},
		{"<", TOKEN_LT},
		{">", TOKEN_GT},
		{"<=", TOKEN_LTE},
		{">=", TOKEN_GTE},
		{"&&", TOKEN_DOUBLE_AMP},
		{"||", TOKEN_DOUBLE_PIPE},
		{"!", TOKEN_BANG},
		{"(", TOKEN_LPAREN},
		{")", TOKEN_RPAREN},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			tokens := scan(t, tt.source)
			require.Len(t, tokens, 2)
			assert.Equal(t, tt.expected, tokens[0].Type)
			assert.Equal(t, tt.source, tokens[0].Lexeme)
		})
	}
}

func TestScanInvalidOperators(t *testing.T) {
	for _, source := range []string{"a = 1", "a <> 1", "a =< 1", "a >< 1", "a => 1", "a & b", "a | b"} {
		t.Run(source, func(t *testing.T) {
			_, errs := New(source).ScanTokens()
			require.Len(t, errs, 1)
			assert.Equal(t, 2, errs[0].Offset)
		})
	}
}

func TestScanDoubleBang(t *testing.T) {
	tokens := scan(t, `!!latest()`)
	assert.Equal(t, []TokenType{TOKEN_BANG, TOKEN_BANG, TOKEN_LATEST, TOKEN_LPAREN, TOKEN_RPAREN, TOKEN_EOF}, types(tokens))
}

func TestScanLookups(t *testing.T) {
	tokens := scan(t, `parameter:alpha this:x_1 environment:ENV id name`)

	assert.Equal(t, []TokenType{TOKEN_PARAMETER, TOKEN_THIS, TOKEN_ENVIRONMENT, TOKEN_ID, TOKEN_NAME, TOKEN_EOF}, types(tokens))
	assert.Equal(t, "alpha", tokens[0].Literal)
	assert.Equal(t, "x_1", tokens[1].Literal)
	assert.Equal(t, "ENV", tokens[2].Literal)
}

func TestScanLookupWithoutKey(t *testing.T) {
	_, errs := New(`parameter: x`).ScanTokens()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "Expected identifier after 'parameter:'")
}

func TestScanNumbers(t *testing.T) {
	tests := []struct {
		source   string
		expected float64
	}{
		{"42", 42},
		{"-1", -1},
		{"+3", 3},
		{"1.5", 1.5},
		{".5", 0.5},
		{"2e3", 2000},
		{"2.5E-1", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			tokens := scan(t, tt.source)
			require.Len(t, tokens, 2)
			assert.Equal(t, TOKEN_NUMBER_LITERAL, tokens[0].Type)
			assert.Equal(t, tt.expected, tokens[0].Literal)
		})
	}

	_, errs := New("1e").ScanTokens()
	assert.Len(t, errs, 1)

	_, errs = New("1e400").ScanTokens()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Number out of range: 1e400")
}

func TestScanBooleans(t *testing.T) {
	tokens := scan(t, `true TRUE True false FALSE False`)
	for i := 0; i < 3; i++ {
		assert.Equal(t, TOKEN_TRUE, tokens[i].Type)
		assert.Equal(t, true, tokens[i].Literal)
	}
	for i := 3; i < 6; i++ {
		assert.Equal(t, TOKEN_FALSE, tokens[i].Type)
		assert.Equal(t, false, tokens[i].Literal)
	}
}

func TestScanStrings(t *testing.T) {
	tokens := scan(t, `'single "inner"' "double 'inner'"`)
	assert.Equal(t, `single "inner"`, tokens[0].Literal)
	assert.Equal(t, `double 'inner'`, tokens[1].Literal)

	_, errs := New(`"unterminated`).ScanTokens()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Unterminated string")

	_, errs = New(`"back\slash"`).ScanTokens()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Backslash")
}

func TestScanUnexpectedCharacter(t *testing.T) {
	_, errs := New(`name == "a" ; x`).ScanTokens()
	require.Len(t, errs, 1)
	assert.Equal(t, 12, errs[0].Offset)
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("a_1"))
	assert.True(t, IsIdentifier("1a"))
	assert.False(t, IsIdentifier(""))
	assert.False(t, IsIdentifier("a-b"))
}
