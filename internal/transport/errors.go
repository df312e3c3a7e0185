package transport

import "errors"

// ErrUnknownDiscriminator is returned by Frame.Validate when Kind does not
// match any known variant.
var ErrUnknownDiscriminator = errors.New("transport: unknown frame discriminator")

// ErrFrameTooLarge is returned by the codec when a length prefix exceeds
// MaxFrameSize, a protective bound against a corrupt or hostile peer.
var ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

// ErrShortLengthPrefix is returned when fewer than 4 bytes are available to
// read the length prefix before the stream ends.
var ErrShortLengthPrefix = errors.New("transport: short length prefix")
