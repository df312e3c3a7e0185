package hostcall

// CodedError lets a handler choose the exact wire response code the
// dispatcher sends back, instead of the generic handler-error bucket — the
// FD table's errno-style hostcalls (spec.md §4.6/§7) need this to surface
// EBADF/ENOSPC/EINVAL/etc. rather than a flat -1.
type CodedError struct {
	Code    int32
	Message string
	// Payload rides alongside the error, e.g. the needed buffer size a
	// recv-style hostcall reports on ENOSPC (spec.md §8 S5).
	Payload []byte
}

func (e *CodedError) Error() string {
	return e.Message
}

// NewCodedError builds a CodedError with no payload.
func NewCodedError(code int32, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// NewCodedErrorPayload builds a CodedError carrying payload.
func NewCodedErrorPayload(code int32, message string, payload []byte) *CodedError {
	return &CodedError{Code: code, Message: message, Payload: payload}
}
