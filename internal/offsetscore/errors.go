package offsetscore

import (
	"fmt"

	"github.com/flashdb/cantera/internal/sysexit"
)

// Kind classifies a decode-time failure per spec.md §7's error taxonomy.
type Kind int

const (
	// KindTruncated means the input ended inside a varint/RLE continuation
	// chain or a block was shorter than its header implied.
	KindTruncated Kind = iota
	// KindMalformed means an unknown format tag or an otherwise
	// structurally invalid payload was encountered.
	KindMalformed
	// KindInvariant means a decoded value violated an invariant the
	// encoder guarantees, such as non-decreasing offsets.
	KindInvariant
)

// Error reports a codec-layer failure. The codec performs no I/O, so
// every Error is one of Truncated, Malformed, or Invariant; ExitKind
// maps all three onto a sysexits code for internal/sysexit.FromError.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("offsetscore: %s", e.Msg)
}

// ExitKind maps a codec error onto the sysexits code spec.md §7 assigns
// its taxonomy: Truncated, Malformed, and Invariant are all input-data
// errors, so all three report sysexit.DataErr — satisfies the kinder
// interface internal/sysexit.FromError looks for.
func (e *Error) ExitKind() int {
	return sysexit.DataErr
}

func errTruncated(msg string) error {
	return &Error{Kind: KindTruncated, Msg: msg}
}

func errMalformed(format string, args ...interface{}) error {
	return &Error{Kind: KindMalformed, Msg: fmt.Sprintf(format, args...)}
}

func errInvariant(msg string) error {
	return &Error{Kind: KindInvariant, Msg: msg}
}
