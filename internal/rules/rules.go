package rules

import (
	"errors"
	"fmt"
)

// ServiceName is the service block consulted by this engine; other service
// blocks in the same rule file are parsed but ignored.
const ServiceName = "docstore"

// Permissive is the rule source installed as a migration fallback when a
// database still carries pre-DSL rule content.
const Permissive = `service docstore {
   match /* {
      allow read, write, list: if true;
   }
}`

// RuleError describes a compile failure at a 1-based source position. It is
// returned as data so callers can keep the previously compiled matcher
// active while rejecting the update.
type RuleError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// Compile turns rule source text into a permission matcher. On failure the
// returned RuleError carries the position of the offending token.
func Compile(source string) (*Matcher, *RuleError) {
	tokens, err := tokenize(source)
	if err != nil {
		return nil, positionError(source, err)
	}
	services, err := parse(tokens, len(source))
	if err != nil {
		return nil, positionError(source, err)
	}

	for _, service := range services {
		if service.name != ServiceName {
			continue
		}
		matcher, err := compileService(service)
		if err != nil {
			return nil, positionError(source, err)
		}
		return matcher, nil
	}
	return nil, &RuleError{Line: 1, Column: 1, Message: fmt.Sprintf("no %s service available", ServiceName)}
}

// positionError maps a tokenizer, parser or compiler error onto its 1-based
// line and column.
func positionError(source string, err error) *RuleError {
	index := 0
	var tokErr *tokenizerError
	var parseErr *parserError
	var compErr *compilerError
	switch {
	case errors.As(err, &tokErr):
		index = tokErr.index
	case errors.As(err, &parseErr):
		index = parseErr.index
	case errors.As(err, &compErr):
		index = compErr.index
	}

	line, column := 1, 1
	for i := 0; i < index && i < len(source); i++ {
		if source[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return &RuleError{Line: line, Column: column, Message: err.Error()}
}
