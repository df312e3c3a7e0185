// Package stream implements the per-task stream multiplexer (spec.md §3
// "Stream channel"/"Stream class", §4.7): a stream-ID-keyed map of
// bidirectional channels, each bound to a registered, process-wide stream
// class.
package stream

// EventKind discriminates the stream-data payload union (the "evolved"
// schema per spec.md §9: oneof{Operation, Notification, RawData}).
type EventKind uint8

const (
	EventOperation EventKind = iota
	EventNotification
	EventRaw
)

// OpType enumerates Operation event variants.
type OpType uint32

const (
	OpNoOp OpType = iota
	OpConfigure
	OpCreate
	OpPatch
	OpDelete
	OpAppend
	OpTruncate
	OpCancel
)

// NotificationType enumerates Notification event variants.
type NotificationType uint32

const (
	NotifyError NotificationType = iota
	NotifyConfigured
	NotifyCreated
	NotifyUpdated
	NotifyDeleted
	NotifyCompleted
	NotifyCancelled
)

// DefaultFunction is the function name every RawData event is dispatched
// to, whatever its Name, and also any Operation/Notification event with an
// empty Name (spec.md §4.7: "defaults to the 'io' function for RawData").
const DefaultFunction = "io"

// Data is the wire shape of a single stream event, carried inside a
// stream-data Signal frame.
type Data struct {
	StreamID         int32            `cbor:"1,keyasint"`
	SequenceID       int64            `cbor:"2,keyasint"`
	Kind             EventKind        `cbor:"3,keyasint"`
	Name             string           `cbor:"4,keyasint"` // function name (Operation/Notification)
	OpType           OpType           `cbor:"5,keyasint"`
	NotificationType NotificationType `cbor:"6,keyasint"`
	Payload          []byte           `cbor:"7,keyasint"`
	Final            bool             `cbor:"8,keyasint"`
}

// functionName returns the target function within the class this event
// should be dispatched to.
func (d Data) functionName() string {
	if d.Kind == EventRaw || d.Name == "" {
		return DefaultFunction
	}
	return d.Name
}
