package tenantsql

import (
	"errors"

	"github.com/pthm/tenantsql/internal/rewrite"
	"github.com/pthm/tenantsql/pkg/parser"
)

// Sentinel errors for rejected statements. A rejected statement never
// produces SQL; callers must not fall back to running the original text.
//
// The concrete errors are *parser.SyntaxError and *rewrite.Error values that
// carry the parser message or the offending node and its position. Use the
// Is*Err helpers to classify them.
var (
	// ErrSyntax is returned when the input is not valid PostgreSQL.
	ErrSyntax = parser.ErrSyntax

	// ErrMalformedReference is returned when a table reference cannot be
	// resolved to a table name.
	ErrMalformedReference = rewrite.ErrMalformedReference

	// ErrUnsupportedConstruct is returned for statements other than a single
	// SELECT and for constructs that could hide an unfiltered table.
	ErrUnsupportedConstruct = rewrite.ErrUnsupportedConstruct

	// ErrNoTenant is returned when no tenant was supplied, or when
	// RewriteContext finds none in the context.
	ErrNoTenant = errors.New("tenantsql: no tenant")
)

// IsSyntaxErr returns true if err is or wraps ErrSyntax.
func IsSyntaxErr(err error) bool {
	return errors.Is(err, ErrSyntax)
}

// IsMalformedReferenceErr returns true if err is or wraps ErrMalformedReference.
func IsMalformedReferenceErr(err error) bool {
	return errors.Is(err, ErrMalformedReference)
}

// IsUnsupportedConstructErr returns true if err is or wraps ErrUnsupportedConstruct.
func IsUnsupportedConstructErr(err error) bool {
	return errors.Is(err, ErrUnsupportedConstruct)
}

// IsNoTenantErr returns true if err is or wraps ErrNoTenant.
func IsNoTenantErr(err error) bool {
	return errors.Is(err, ErrNoTenant)
}

// IsRejected returns true if err means the statement was refused: a syntax
// error, a malformed reference or an unsupported construct.
func IsRejected(err error) bool {
	return IsSyntaxErr(err) || IsMalformedReferenceErr(err) || IsUnsupportedConstructErr(err)
}
