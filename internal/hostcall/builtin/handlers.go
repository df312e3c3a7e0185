package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/hostcall"
	"github.com/edgeworks-io/spearlet/internal/stream"
	"github.com/edgeworks-io/spearlet/internal/transport"
	"github.com/fxamacker/cbor/v2"
)

// RegisterAll wires every built-in capability class spec.md §4.5 names
// (chat, asr, mic, tool registry, vector store, stream-control, transform)
// into reg, backed by vstore and tools, plus the FD-table hostcall family
// (cchat_*/rtasr_*/mic_*/spear_epoll_*/spear_fd_ctl, spec.md §4.6/§6.2).
func RegisterAll(reg *hostcall.Registry, vstore *VectorStore, tools *ToolRegistry) error {
	handlers := map[transport.Method]hostcall.Handler{
		transport.MethodTransform:          handleTransform,
		transport.MethodSpeak:              handleSpeak,
		transport.MethodRecord:             handleRecord,
		transport.MethodInput:              handleInput,
		transport.MethodToolInvoke:         toolInvokeHandler(tools),
		transport.MethodInternalToolCreate: internalToolCreateHandler(tools),
		transport.MethodVecStoreCreate:     vecStoreCreateHandler(vstore),
		transport.MethodVecStoreInsert:     vecStoreInsertHandler(vstore),
		transport.MethodVecStoreQuery:      vecStoreQueryHandler(vstore),
		transport.MethodVecStoreDelete:     vecStoreDeleteHandler(vstore),
		transport.MethodStreamCtrl:         handleStreamCtrl,
		transport.MethodCustom:             handleCustom,
		transport.MethodFDCreate:           handleFDCreate,
		transport.MethodFDCtl:              handleFDCtl,
		transport.MethodFDWriteMsg:         handleFDWriteMsg,
		transport.MethodFDSend:             handleFDSend,
		transport.MethodFDRecv:             handleFDRecv,
		transport.MethodFDWrite:            handleFDWrite,
		transport.MethodFDRead:             handleFDRead,
		transport.MethodFDClose:            handleFDClose,
		transport.MethodEpollWait:          handleEpollWait,
	}
	for method, h := range handlers {
		if err := reg.Register(method, h); err != nil {
			return fmt.Errorf("builtin: registering %s: %w", method, err)
		}
	}
	return nil
}

// handleTransform is the chat capability class's minimal stand-in: it
// upper-cases the guest-supplied text. A real chat provider is out of
// scope (spec.md §1); this exists so the dispatcher, codec, and pending
// request path have a deterministic method to exercise end to end.
func handleTransform(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
	var req transformRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding transform request: %w", err)
	}
	return cbor.Marshal(transformResponse{Text: strings.ToUpper(req.Text)})
}

// handleSpeak is the stub TTS capability: reports the byte length it would
// have synthesized without producing real audio.
func handleSpeak(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
	var req speakRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding speak request: %w", err)
	}
	return cbor.Marshal(speakResponse{AudioBytes: len(req.Text) * 2})
}

// handleRecord is the stub ASR capability: always reports empty input,
// since there is no real microphone session behind it.
func handleRecord(_ context.Context, _ comm.InvocationInfo, _ []byte) ([]byte, error) {
	return cbor.Marshal(recordResponse{Text: ""})
}

// handleInput is the stub MIC capability, analogous to handleRecord.
func handleInput(_ context.Context, _ comm.InvocationInfo, _ []byte) ([]byte, error) {
	return cbor.Marshal(inputResponse{Text: ""})
}

func toolInvokeHandler(tools *ToolRegistry) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req toolInvokeRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding tool invoke request: %w", err)
		}
		return tools.Invoke(req.Name, req.Args)
	}
}

// internalToolCreateHandler registers a new tool at runtime whose body is
// an opaque echo of its input, since executing an arbitrary guest-supplied
// script is out of scope here; what's exercised is the registration path
// (spec.md §4.5 "dynamically registered handlers").
func internalToolCreateHandler(tools *ToolRegistry) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req internalToolCreateRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding internal tool create request: %w", err)
		}
		if err := tools.Register(req.Name, func(callArgs []byte) ([]byte, error) {
			return callArgs, nil
		}); err != nil {
			return nil, err
		}
		return cbor.Marshal(ackResponse{OK: true})
	}
}

func vecStoreCreateHandler(vstore *VectorStore) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req vecStoreCreateRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding vecstore create request: %w", err)
		}
		if err := vstore.Create(req.Collection, req.Dim); err != nil {
			return nil, err
		}
		return cbor.Marshal(ackResponse{OK: true})
	}
}

func vecStoreInsertHandler(vstore *VectorStore) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req vecStoreInsertRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding vecstore insert request: %w", err)
		}
		if err := vstore.Insert(req.Collection, req.ID, req.Vector, req.Metadata); err != nil {
			return nil, err
		}
		return cbor.Marshal(ackResponse{OK: true})
	}
}

func vecStoreQueryHandler(vstore *VectorStore) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req vecStoreQueryRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding vecstore query request: %w", err)
		}
		results, err := vstore.Query(req.Collection, req.Vector, req.TopK)
		if err != nil {
			return nil, err
		}
		wire := make([]vecStoreQueryResultWire, len(results))
		for i, r := range results {
			wire[i] = vecStoreQueryResultWire{ID: r.ID, Score: r.Score, Metadata: r.Metadata}
		}
		return cbor.Marshal(vecStoreQueryResponse{Results: wire})
	}
}

func vecStoreDeleteHandler(vstore *VectorStore) hostcall.Handler {
	return func(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
		var req vecStoreDeleteRequest
		if err := cbor.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("builtin: decoding vecstore delete request: %w", err)
		}
		if err := vstore.Delete(req.Collection, req.ID); err != nil {
			return nil, err
		}
		return cbor.Marshal(ackResponse{OK: true})
	}
}

// handleStreamCtrl opens or closes a stream channel on the task's stream
// multiplexer (spec.md §4.7), which is attached to the task via
// task.SetStreamTable at task-creation time.
func handleStreamCtrl(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req streamCtrlRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding stream ctrl request: %w", err)
	}

	mux, ok := info.Task.StreamTable().(*stream.Multiplexer)
	if !ok || mux == nil {
		return nil, fmt.Errorf("builtin: task %d has no stream multiplexer attached", info.Task.Config.ID)
	}

	switch req.Op {
	case "open":
		id, err := mux.New(context.Background(), req.Class)
		if err != nil {
			return nil, fmt.Errorf("builtin: opening stream class %q: %w", req.Class, err)
		}
		return cbor.Marshal(streamCtrlResponse{ID: id})
	case "close":
		if err := mux.Close(req.ID); err != nil {
			return nil, fmt.Errorf("builtin: closing stream %d: %w", req.ID, err)
		}
		return cbor.Marshal(streamCtrlResponse{ID: req.ID})
	default:
		return nil, fmt.Errorf("builtin: unknown stream ctrl op %q", req.Op)
	}
}

// handleCustom is the escape hatch for method-code Custom: it echoes the
// request bytes back verbatim, since any concrete meaning is deployment
// defined.
func handleCustom(_ context.Context, _ comm.InvocationInfo, args []byte) ([]byte, error) {
	return args, nil
}
