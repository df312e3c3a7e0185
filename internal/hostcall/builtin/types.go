package builtin

// Wire payload shapes for the built-in handlers, carried in the Frame's
// embedded bytes (spec.md §6.1 "a further schema specific to the method").
// Encoded/decoded with fxamacker/cbor's package-level default mode, not the
// canonical mode internal/transport uses for frames.

type transformRequest struct {
	Text string `cbor:"text"`
}

type transformResponse struct {
	Text string `cbor:"text"`
}

type speakRequest struct {
	Text string `cbor:"text"`
}

type speakResponse struct {
	AudioBytes int `cbor:"audio_bytes"`
}

type recordResponse struct {
	Text string `cbor:"text"`
}

type inputResponse struct {
	Text string `cbor:"text"`
}

type toolInvokeRequest struct {
	Name string `cbor:"name"`
	Args []byte `cbor:"args"`
}

type internalToolCreateRequest struct {
	Name   string `cbor:"name"`
	Script string `cbor:"script"`
}

type ackResponse struct {
	OK bool `cbor:"ok"`
}

type vecStoreCreateRequest struct {
	Collection string `cbor:"collection"`
	Dim        int    `cbor:"dim"`
}

type vecStoreInsertRequest struct {
	Collection string            `cbor:"collection"`
	ID         string            `cbor:"id"`
	Vector     []float32         `cbor:"vector"`
	Metadata   map[string]string `cbor:"metadata"`
}

type vecStoreQueryRequest struct {
	Collection string    `cbor:"collection"`
	Vector     []float32 `cbor:"vector"`
	TopK       int       `cbor:"top_k"`
}

type vecStoreQueryResultWire struct {
	ID       string            `cbor:"id"`
	Score    float64           `cbor:"score"`
	Metadata map[string]string `cbor:"metadata"`
}

type vecStoreQueryResponse struct {
	Results []vecStoreQueryResultWire `cbor:"results"`
}

type vecStoreDeleteRequest struct {
	Collection string `cbor:"collection"`
	ID         string `cbor:"id"`
}

type streamCtrlRequest struct {
	Op    string `cbor:"op"` // "open" | "close"
	Class string `cbor:"class"`
	ID    int32  `cbor:"id"`
}

type streamCtrlResponse struct {
	ID int32 `cbor:"id"`
}

// FD hostcall wire shapes (spec.md §4.6/§6.2): one create/ctl/write/read/
// close family per session kind, sharing these request/response shapes
// since the table is kind-agnostic at the wire level.

type fdCreateRequest struct {
	Kind string `cbor:"kind"` // "chat" | "asr" | "mic" | "epoll"
}

type fdCreateResponse struct {
	FD int32 `cbor:"fd"`
}

type fdCtlRequest struct {
	FD    int32  `cbor:"fd"`
	Cmd   string `cbor:"cmd"` // "set_param" | "get_metrics" | "get_status"
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
	// MaxLen bounds the buffer the guest supplies for GET_METRICS/GET_STATUS
	// replies; 0 means unbounded.
	MaxLen int `cbor:"max_len"`
}

type fdCtlResponse struct {
	Status map[string]string `cbor:"status,omitempty"`
}

type fdWriteMsgRequest struct {
	FD   int32  `cbor:"fd"`
	Role string `cbor:"role"`
	Text string `cbor:"text"`
}

type fdSendRequest struct {
	FD int32 `cbor:"fd"`
}

type fdRecvRequest struct {
	FD     int32 `cbor:"fd"`
	MaxLen int   `cbor:"max_len"` // 0 means unbounded
}

type fdRecvResponse struct {
	Data []byte `cbor:"data"`
}

type fdWriteRequest struct {
	FD   int32  `cbor:"fd"`
	Data []byte `cbor:"data"`
}

type fdReadRequest struct {
	FD     int32 `cbor:"fd"`
	MaxLen int   `cbor:"max_len"`
}

type fdReadResponse struct {
	Data []byte `cbor:"data"`
}

type fdCloseRequest struct {
	FD int32 `cbor:"fd"`
}

type epollWaitRequest struct {
	FDs       []int32 `cbor:"fds"`
	TimeoutMS int64   `cbor:"timeout_ms"`
}

type epollWaitResponse struct {
	Ready map[int32]uint32 `cbor:"ready"`
}
