package rewrite

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var (
	// ErrMalformedReference is returned when a table reference cannot be
	// resolved to a qualified table name.
	ErrMalformedReference = errors.New("tenantsql: malformed table reference")

	// ErrUnsupportedConstruct is returned for SQL the walker cannot descend
	// into safely.
	ErrUnsupportedConstruct = errors.New("tenantsql: unsupported construct")
)

// Error describes why a statement was rejected. It unwraps to Kind, one of
// the sentinel errors above.
type Error struct {
	Kind error

	// Node is the parse node kind, e.g. "RangeVar" or "InsertStmt".
	Node string

	// Position is the byte offset of the node in the source text, -1 when
	// the parser did not record one.
	Position int

	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Node != "" {
		msg += fmt.Sprintf(" (%s", e.Node)
		if e.Position >= 0 {
			msg += fmt.Sprintf(" at position %d", e.Position)
		}
		msg += ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func malformed(m proto.Message, detail string) *Error {
	return &Error{
		Kind:     ErrMalformedReference,
		Node:     kindOf(m),
		Position: positionOf(m),
		Detail:   detail,
	}
}

func unsupported(m proto.Message, detail string) *Error {
	return &Error{
		Kind:     ErrUnsupportedConstruct,
		Node:     kindOf(m),
		Position: positionOf(m),
		Detail:   detail,
	}
}

func kindOf(m proto.Message) string {
	if m == nil {
		return ""
	}
	return string(m.ProtoReflect().Descriptor().Name())
}

// positionOf reads the "location" field most parse nodes carry.
func positionOf(m proto.Message) int {
	if m == nil {
		return -1
	}
	r := m.ProtoReflect()
	fd := r.Descriptor().Fields().ByName("location")
	if fd == nil || fd.Kind() != protoreflect.Int32Kind {
		return -1
	}
	return int(r.Get(fd).Int())
}
