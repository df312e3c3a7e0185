// Package transport implements the host<->guest wire protocol (spec.md §3,
// §6.1): length-prefixed, self-describing frames carrying a Request,
// Response, or Signal.
package transport

// Method is the fixed enum of hostcall method codes a guest Request may
// name, drawn from spec.md §6.1.
type Method uint32

const (
	MethodNoOp Method = iota
	MethodTransform
	MethodInput
	MethodSpeak
	MethodRecord
	MethodToolInvoke
	MethodInternalToolCreate
	MethodVecStoreCreate
	MethodVecStoreInsert
	MethodVecStoreQuery
	MethodVecStoreDelete
	MethodCustom
	MethodStreamCtrl
	MethodFDCreate
	MethodFDCtl
	MethodFDWriteMsg
	MethodFDSend
	MethodFDRecv
	MethodFDWrite
	MethodFDRead
	MethodFDClose
	MethodEpollWait
)

func (m Method) String() string {
	switch m {
	case MethodNoOp:
		return "NoOp"
	case MethodTransform:
		return "Transform"
	case MethodInput:
		return "Input"
	case MethodSpeak:
		return "Speak"
	case MethodRecord:
		return "Record"
	case MethodToolInvoke:
		return "ToolInvoke"
	case MethodInternalToolCreate:
		return "InternalToolCreate"
	case MethodVecStoreCreate:
		return "VecStoreCreate"
	case MethodVecStoreInsert:
		return "VecStoreInsert"
	case MethodVecStoreQuery:
		return "VecStoreQuery"
	case MethodVecStoreDelete:
		return "VecStoreDelete"
	case MethodCustom:
		return "Custom"
	case MethodStreamCtrl:
		return "StreamCtrl"
	case MethodFDCreate:
		return "FDCreate"
	case MethodFDCtl:
		return "FDCtl"
	case MethodFDWriteMsg:
		return "FDWriteMsg"
	case MethodFDSend:
		return "FDSend"
	case MethodFDRecv:
		return "FDRecv"
	case MethodFDWrite:
		return "FDWrite"
	case MethodFDRead:
		return "FDRead"
	case MethodFDClose:
		return "FDClose"
	case MethodEpollWait:
		return "EpollWait"
	default:
		return "Unknown"
	}
}

// SignalMethod is the fixed enum of asynchronous signal kinds (spec.md §6.1).
type SignalMethod uint32

const (
	SignalTerminate SignalMethod = iota
	SignalStreamData
)

func (s SignalMethod) String() string {
	switch s {
	case SignalTerminate:
		return "Terminate"
	case SignalStreamData:
		return "StreamData"
	default:
		return "Unknown"
	}
}

// Kind discriminates the three frame variants on the wire.
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindSignal
)

// Frame is the tagged union transported over the duplex pipe. Only the
// fields relevant to Kind are populated; neither the type (mirroring the
// wire union) nor Validate() enforces that.
type Frame struct {
	Kind Kind `cbor:"1,keyasint"`

	// Request / Response correlation id. Negative on a Request means
	// fire-and-forget (spec.md §3 Frame invariants).
	ID int64 `cbor:"2,keyasint"`

	// Request-only.
	Method Method `cbor:"3,keyasint"`
	// Request-only (method arguments) and reused as the Response payload
	// field name in spec.md's wire description ("request"/"response" are
	// the same bytes slot in this implementation).
	Payload []byte `cbor:"4,keyasint"`

	// Response-only.
	Code    int32  `cbor:"5,keyasint"`
	Message string `cbor:"6,keyasint"`

	// Signal-only.
	SignalMethod SignalMethod `cbor:"7,keyasint"`
}

// Validate rejects frames whose Kind is not one of the three variants. It
// does not check per-variant fields, and a frame with no Kind key decodes as
// KindRequest (the zero value) and passes.
func (f *Frame) Validate() error {
	switch f.Kind {
	case KindRequest:
		return nil
	case KindResponse:
		return nil
	case KindSignal:
		return nil
	default:
		return ErrUnknownDiscriminator
	}
}

// IsFireAndForget reports whether a Request frame expects no Response.
func (f *Frame) IsFireAndForget() bool {
	return f.Kind == KindRequest && f.ID < 0
}

// NewRequest builds a Request frame.
func NewRequest(id int64, method Method, payload []byte) Frame {
	return Frame{Kind: KindRequest, ID: id, Method: method, Payload: payload}
}

// NewResponse builds a Response frame.
func NewResponse(id int64, code int32, message string, payload []byte) Frame {
	return Frame{Kind: KindResponse, ID: id, Code: code, Message: message, Payload: payload}
}

// NewSignal builds a Signal frame.
func NewSignal(method SignalMethod, payload []byte) Frame {
	return Frame{Kind: KindSignal, SignalMethod: method, Payload: payload}
}
