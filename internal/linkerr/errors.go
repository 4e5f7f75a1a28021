// Package linkerr defines the error taxonomy shared by every phase of the
// linker pipeline, so the driver can map a failure to an exit code and a
// diagnostic without each component inventing its own error shape.
package linkerr

import "fmt"

// Kind classifies an error by its recovery policy (spec §7).
type Kind int

const (
	// InvalidInput covers malformed ELF/ar input: bad magic, truncated
	// headers, out-of-bounds offsets.
	InvalidInput Kind = iota
	// UnsupportedFeature covers inputs the linker understands but
	// refuses to process: non-ELF64, non-{x86-64,aarch64}, ET_DYN, or
	// a --libc backend that isn't implemented.
	UnsupportedFeature
	// UnresolvedReference is a warning-class kind: a global symbol is
	// still undefined after all archives have been drained.
	UnresolvedReference
	// RelocationOverflow covers a relocation whose computed value does
	// not fit the target field width. Fatal only for PC32/PLT32 sites
	// that still overflow after PLT redirection; otherwise a warning.
	RelocationOverflow
	// UnsupportedReloc is a relocation type code the engine does not
	// implement for the object's architecture.
	UnsupportedReloc
	// TLSReloc is a thread-local-storage relocation; always a warning,
	// the site is left unpatched.
	TLSReloc
	// IOError covers failures opening, reading, writing, or renaming
	// files.
	IOError
	// MissingEntry means the entry symbol (default _start, fallback
	// main) could not be resolved after symbol resolution completed.
	MissingEntry
	// OutOfMemory covers allocator failures in the memory pool.
	OutOfMemory
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid-input"
	case UnsupportedFeature:
		return "unsupported-feature"
	case UnresolvedReference:
		return "unresolved-reference"
	case RelocationOverflow:
		return "relocation-overflow"
	case UnsupportedReloc:
		return "unsupported-reloc"
	case TLSReloc:
		return "tls-reloc"
	case IOError:
		return "io-error"
	case MissingEntry:
		return "missing-entry"
	case OutOfMemory:
		return "out-of-memory"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind should abort the link.
func (k Kind) Fatal() bool {
	switch k {
	case UnresolvedReference, TLSReloc:
		return false
	case RelocationOverflow:
		// Overflow on the PC32/PLT32 path is queued for pass 2 and
		// never constructed as an Error until pass 2 fails to fix it
		// up, so any RelocationOverflow that reaches the driver is
		// fatal. Other-width overflow is returned by the per-arch
		// appliers as a RelocationOverflow Error too, but reloc.Apply
		// logs it as a warning and skips the site instead of passing
		// it on.
		return true
	default:
		return true
	}
}

// Error carries a Kind plus the diagnostic context spec §7 requires:
// file, symbol, relocation type, and numeric context, when available.
type Error struct {
	Kind   Kind
	File   string
	Symbol string
	RelType string
	Num    int64
	HaveNum bool
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.File != "" {
		s += fmt.Sprintf(" (file=%s)", e.File)
	}
	if e.Symbol != "" {
		s += fmt.Sprintf(" (symbol=%s)", e.Symbol)
	}
	if e.RelType != "" {
		s += fmt.Sprintf(" (reloc=%s)", e.RelType)
	}
	if e.HaveNum {
		s += fmt.Sprintf(" (n=%d)", e.Num)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// Wrap builds an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, msg string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), Err: err}
}

// WithFile returns a copy of e annotated with a source file name.
func (e *Error) WithFile(file string) *Error {
	c := *e
	c.File = file
	return &c
}

// WithSymbol returns a copy of e annotated with a symbol name.
func (e *Error) WithSymbol(sym string) *Error {
	c := *e
	c.Symbol = sym
	return &c
}

// WithReloc returns a copy of e annotated with a relocation type name.
func (e *Error) WithReloc(relType string) *Error {
	c := *e
	c.RelType = relType
	return &c
}

// WithNum returns a copy of e annotated with a numeric context value.
func (e *Error) WithNum(n int64) *Error {
	c := *e
	c.Num = n
	c.HaveNum = true
	return &c
}

// As reports whether err is a *Error of the given kind.
func As(err error, kind Kind) bool {
	var le *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			le = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return le != nil && le.Kind == kind
}
