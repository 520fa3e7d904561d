package pics

import "errors"

// Per-file failure kinds. Errors returned by the pipeline wrap one of these.
var (
	ErrDecode                = errors.New("source could not be decoded")
	ErrEncode                = errors.New("encoder rejected raster")
	ErrSizeBoundUnattainable = errors.New("size ceiling unattainable within quality bounds")
	ErrNameExhausted         = errors.New("identifier retry limit exceeded")
	ErrAtomicWrite           = errors.New("atomic write failed")
	ErrCancelled             = errors.New("task cancelled before start")
)

// Run level failures, reported before any task is scheduled.
var (
	ErrRootMissing  = errors.New("root directory does not exist")
	ErrNoCandidates = errors.New("no candidate image files found")
	ErrUnitLocked   = errors.New("processing unit is locked by another run")
)

// ErrorKind classifies a per-file error for reporting.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindDecode
	KindEncode
	KindSizeBound
	KindNameExhausted
	KindAtomicWrite
	KindCancelled
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindSizeBound:
		return "size-bound"
	case KindNameExhausted:
		return "name-exhausted"
	case KindAtomicWrite:
		return "atomic-write"
	case KindCancelled:
		return "cancelled"
	}
	return "other"
}

// KindOf maps an error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrEncode):
		return KindEncode
	case errors.Is(err, ErrSizeBoundUnattainable):
		return KindSizeBound
	case errors.Is(err, ErrNameExhausted):
		return KindNameExhausted
	case errors.Is(err, ErrAtomicWrite):
		return KindAtomicWrite
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	}
	return KindOther
}
