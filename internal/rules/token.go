// Package rules implements the access-control rule language: a tokenizer, a
// recursive-descent parser and a compiler that turns rule text into an
// evaluatable permission matcher.
package rules

import "regexp"

// TokenType tags a lexical token.
type TokenType string

const (
	tokenSpace              TokenType = "space"
	tokenComment            TokenType = "comment"
	tokenString             TokenType = "string"
	tokenKeyword            TokenType = "keyword"
	tokenColon              TokenType = "colon"
	tokenSemicolon          TokenType = "semicolon"
	tokenComma              TokenType = "comma"
	tokenComparisonOperator TokenType = "comparison_operator"
	tokenLogicOperator      TokenType = "logic_operator"
	tokenEquals             TokenType = "equals"
	tokenSlash              TokenType = "slash"
	tokenBracketOpen        TokenType = "bracket_open"
	tokenBracketClose       TokenType = "bracket_close"
	tokenCurlyOpen          TokenType = "curly_open"
	tokenCurlyClose         TokenType = "curly_close"
	tokenNumber             TokenType = "number"
	tokenText               TokenType = "text"
)

// Token is one lexical unit with its source position.
type Token struct {
	Type  TokenType
	Value string
	Start int
	End   int
}

// tokenizerError carries the character index of the offending input; Compile
// maps it to a line and column.
type tokenizerError struct {
	message string
	index   int
}

func (e *tokenizerError) Error() string { return e.message }

type tokenMatcher struct {
	pattern *regexp.Regexp
	typ     TokenType
}

// Matchers are tried in order and the first hit wins; whitespace and
// comments are discarded.
var tokenMatchers = []tokenMatcher{
	{regexp.MustCompile(`^\s+`), tokenSpace},
	{regexp.MustCompile(`^//.+`), tokenComment},
	{regexp.MustCompile(`^#.+`), tokenComment},
	{regexp.MustCompile(`^".*?"`), tokenString},
	{regexp.MustCompile(`^(service|match|allow|if|true|false|null)`), tokenKeyword},
	{regexp.MustCompile(`^:`), tokenColon},
	{regexp.MustCompile(`^;`), tokenSemicolon},
	{regexp.MustCompile(`^,`), tokenComma},
	{regexp.MustCompile(`^(==|!=|<=|>=|>|<)`), tokenComparisonOperator},
	{regexp.MustCompile(`^(&&|\|\|)`), tokenLogicOperator},
	{regexp.MustCompile(`^=`), tokenEquals},
	{regexp.MustCompile(`^/`), tokenSlash},
	{regexp.MustCompile(`^\(`), tokenBracketOpen},
	{regexp.MustCompile(`^\)`), tokenBracketClose},
	{regexp.MustCompile(`^\{`), tokenCurlyOpen},
	{regexp.MustCompile(`^\}`), tokenCurlyClose},
	{regexp.MustCompile(`^[0-9]+(\.[0-9]+)?`), tokenNumber},
	{regexp.MustCompile(`^[a-zA-Z_*][a-zA-Z0-9_.*]*`), tokenText},
}

// tokenize splits the rule source into tokens.
func tokenize(input string) ([]Token, error) {
	var tokens []Token
	index := 0
	for index < len(input) {
		matched := false
		for _, m := range tokenMatchers {
			value := m.pattern.FindString(input[index:])
			if value == "" {
				continue
			}
			if m.typ != tokenSpace && m.typ != tokenComment {
				tokens = append(tokens, Token{
					Type:  m.typ,
					Value: value,
					Start: index,
					End:   index + len(value),
				})
			}
			index += len(value)
			matched = true
			break
		}
		if !matched {
			return nil, &tokenizerError{
				message: "unexpected token '" + input[index:index+1] + "'",
				index:   index,
			}
		}
	}
	return tokens, nil
}
