package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/fd"
	"github.com/edgeworks-io/spearlet/internal/hostcall"
	"github.com/fxamacker/cbor/v2"
)

// fdTableOf fetches the *fd.Table attached to the task (cmd/spearlet's
// startTask sets it via task.SetFDTable), or EFAULT if the task somehow has
// none.
func fdTableOf(info comm.InvocationInfo) (*fd.Table, *hostcall.CodedError) {
	table, ok := info.Task.FDTable().(*fd.Table)
	if !ok || table == nil {
		return nil, hostcall.NewCodedError(fd.EFAULT.Negate(), "builtin: task has no fd table attached")
	}
	return table, nil
}

// handleFDCreate backs cchat_create/rtasr_create/mic_create/spear_epoll_create:
// one method, discriminated by the requested kind (spec.md §4.6/§6.2).
func handleFDCreate(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdCreateRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd create request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}

	var session fd.Session
	switch fd.Kind(req.Kind) {
	case fd.KindChat:
		session = NewChatSession(table.Notify)
	case fd.KindASR:
		session = NewASRSession()
	case fd.KindMic:
		session = NewMicSession()
	case fd.KindEpoll:
		session = newEpollSession(table)
	default:
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: unknown fd kind "+req.Kind)
	}

	handle, err := table.Create(session, false)
	if err != nil {
		return nil, hostcall.NewCodedError(fd.EIO.Negate(), err.Error())
	}
	return cbor.Marshal(fdCreateResponse{FD: handle})
}

// handleFDCtl backs cchat_ctl/rtasr_ctl/mic_ctl/spear_fd_ctl's SET_PARAM,
// GET_METRICS, and GET_STATUS commands (spec.md §4.6). GET_METRICS and
// GET_STATUS share the same status map; the distinction is left to the
// session if it cares.
func handleFDCtl(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdCtlRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd ctl request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}

	switch req.Cmd {
	case "set_param":
		setter, ok := session.(paramSetter)
		if !ok {
			return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd does not support set_param")
		}
		if err := setter.SetParam(req.Key, req.Value); err != nil {
			return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), err.Error())
		}
		return cbor.Marshal(fdCtlResponse{})

	case "get_metrics", "get_status":
		provider, ok := session.(statusProvider)
		if !ok {
			return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd does not support "+req.Cmd)
		}
		status, err := provider.Status(req.Cmd)
		if err != nil {
			return nil, hostcall.NewCodedError(fd.EIO.Negate(), err.Error())
		}
		payload, err := cbor.Marshal(fdCtlResponse{Status: status})
		if err != nil {
			return nil, err
		}
		if req.MaxLen > 0 && len(payload) > req.MaxLen {
			needed := make([]byte, 4)
			putUint32(needed, uint32(len(payload)))
			return nil, hostcall.NewCodedErrorPayload(fd.ENOSPC.Negate(), fd.ENOSPC.Error(), needed)
		}
		return payload, nil

	default:
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: unknown fd ctl cmd "+req.Cmd)
	}
}

// handleFDWriteMsg backs cchat_write_msg: buffers one chat turn.
func handleFDWriteMsg(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdWriteMsgRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd write_msg request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	chat, ok := session.(*ChatSession)
	if !ok {
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd is not a chat session")
	}
	chat.WriteMsg(req.Role, req.Text)
	return cbor.Marshal(ackResponse{OK: true})
}

// handleFDSend backs cchat_send: flushes buffered turns into a response,
// making the fd readable.
func handleFDSend(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdSendRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd send request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	chat, ok := session.(*ChatSession)
	if !ok {
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd is not a chat session")
	}
	chat.Send()
	return cbor.Marshal(ackResponse{OK: true})
}

// handleFDRecv backs cchat_recv. A maxLen smaller than the buffered
// response returns -ENOSPC with the needed length, leaving the response
// buffered so the guest can retry with a larger buffer (spec.md §8 S5).
func handleFDRecv(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdRecvRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd recv request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	chat, ok := session.(*ChatSession)
	if !ok {
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd is not a chat session")
	}
	data, needed, recvErrno := chat.Recv(req.MaxLen)
	if recvErrno == fd.ENOSPC {
		buf := make([]byte, 4)
		putUint32(buf, uint32(needed))
		return nil, hostcall.NewCodedErrorPayload(fd.ENOSPC.Negate(), fd.ENOSPC.Error(), buf)
	} else if recvErrno != 0 {
		return nil, hostcall.NewCodedError(recvErrno.Negate(), recvErrno.Error())
	}
	return cbor.Marshal(fdRecvResponse{Data: data})
}

// handleFDWrite backs rtasr_write: appends audio bytes to an ASR session's
// buffer.
func handleFDWrite(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdWriteRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd write request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	asr, ok := session.(*ASRSession)
	if !ok {
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd is not an asr session")
	}
	asr.Write(req.Data)
	return cbor.Marshal(ackResponse{OK: true})
}

// handleFDRead backs rtasr_read and mic_read.
func handleFDRead(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdReadRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd read request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	session, errno := table.Session(req.FD)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}

	var data []byte
	var needed int
	var readErrno fd.Errno
	switch s := session.(type) {
	case *ASRSession:
		data, needed, readErrno = s.Read(req.MaxLen)
	case *MicSession:
		data, needed, readErrno = s.Read(req.MaxLen)
	default:
		return nil, hostcall.NewCodedError(fd.EINVAL.Negate(), "builtin: fd does not support read")
	}
	if readErrno == fd.ENOSPC {
		buf := make([]byte, 4)
		putUint32(buf, uint32(needed))
		return nil, hostcall.NewCodedErrorPayload(fd.ENOSPC.Negate(), fd.ENOSPC.Error(), buf)
	} else if readErrno != 0 {
		return nil, hostcall.NewCodedError(readErrno.Negate(), readErrno.Error())
	}
	return cbor.Marshal(fdReadResponse{Data: data})
}

// handleFDClose backs cchat_close/rtasr_close/mic_close/spear_epoll_close:
// releases the session and returns the handle to the table's free list, so
// reusing it before a new create yields -EBADF (spec.md §8 S5).
func handleFDClose(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req fdCloseRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding fd close request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	if errno := table.Close(req.FD); errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	return cbor.Marshal(ackResponse{OK: true})
}

// handleEpollWait backs spear_epoll_wait: blocks until any of the named
// fds becomes ready or timeout elapses.
func handleEpollWait(_ context.Context, info comm.InvocationInfo, args []byte) ([]byte, error) {
	var req epollWaitRequest
	if err := cbor.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("builtin: decoding epoll wait request: %w", err)
	}
	table, ce := fdTableOf(info)
	if ce != nil {
		return nil, ce
	}
	ep := fd.NewEpoll(table)
	ready, errno := ep.Wait(req.FDs, time.Duration(req.TimeoutMS)*time.Millisecond)
	if errno != 0 {
		return nil, hostcall.NewCodedError(errno.Negate(), errno.Error())
	}
	wire := make(map[int32]uint32, len(ready))
	for k, v := range ready {
		wire[k] = uint32(v)
	}
	return cbor.Marshal(epollWaitResponse{Ready: wire})
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// epollSession lets spear_epoll_create hand back a handle of its own, even
// though waiting is actually driven through handleEpollWait against the
// watched fds directly; it exists so epoll has a closeable handle like every
// other kind (spec.md §4.6).
type epollSession struct {
	table *fd.Table
}

func newEpollSession(table *fd.Table) *epollSession {
	return &epollSession{table: table}
}

func (e *epollSession) Kind() fd.Kind             { return fd.KindEpoll }
func (e *epollSession) Close() error              { return nil }
func (e *epollSession) Readiness() fd.ReadinessMask { return 0 }
