package control

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is selected per-call via grpc.CallContentSubtype so that
// Invoke can carry plain Go structs instead of generated proto.Message
// types — no .proto compiler runs in this build, so there is no generated
// stub to marshal against. SMS is expected to negotiate the same subtype;
// production deployments that front SMS with protoc-generated services can
// drop this codec and the plain structs in types.go; client.go's invoke then
// also loses its grpc.CallContentSubtype(jsonCodecName) call option.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("control: json codec marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("control: json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }
