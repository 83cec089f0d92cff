package cypher

import "fmt"

// SyntaxError reports query text the parser could not accept. Fragment is
// the source text starting at the offending token; Offset is its byte offset
// in the query.
type SyntaxError struct {
	Message  string
	Fragment string
	Offset   int
}

func (e *SyntaxError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Message)
	}
	return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Offset, e.Fragment, e.Message)
}

// EvaluationError reports a well-formed query that cannot be evaluated
// against the bindings it produced. Key names the variable, property,
// parameter or function involved.
type EvaluationError struct {
	Key     string
	Message string
}

func (e *EvaluationError) Error() string {
	if e.Key == "" {
		return "evaluation error: " + e.Message
	}
	return fmt.Sprintf("evaluation error for %q: %s", e.Key, e.Message)
}

func evalErrorf(key, format string, args ...any) error {
	return &EvaluationError{Key: key, Message: fmt.Sprintf(format, args...)}
}
