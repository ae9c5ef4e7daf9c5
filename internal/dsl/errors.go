package dsl

import (
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ParseError names the construct that made the document invalid. A parse
// either succeeds completely or returns a ParseError; there are no partial
// results.
type ParseError struct {
	File      string
	Line      int
	Column    int
	Construct string
	Msg       string
}

func (e *ParseError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Construct != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Construct, e.Msg)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func errAt(pos lexer.Position, construct, format string, args ...any) *ParseError {
	return &ParseError{
		File:      pos.Filename,
		Line:      pos.Line,
		Column:    pos.Column,
		Construct: construct,
		Msg:       fmt.Sprintf(format, args...),
	}
}

func fromSyntaxError(filename string, err error) *ParseError {
	var perr participle.Error
	if errors.As(err, &perr) {
		pos := perr.Position()
		if pos.Filename == "" {
			pos.Filename = filename
		}
		return errAt(pos, "syntax", "%s", perr.Message())
	}
	return &ParseError{File: filename, Construct: "syntax", Msg: err.Error()}
}
