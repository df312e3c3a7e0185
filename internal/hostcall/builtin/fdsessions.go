package builtin

import (
	"strings"
	"sync"

	"github.com/edgeworks-io/spearlet/internal/fd"
)

// paramSetter is implemented by sessions that accept `ctl SET_PARAM`
// (spec.md §4.6).
type paramSetter interface {
	SetParam(key, value string) error
}

// statusProvider is implemented by sessions that answer `ctl GET_METRICS`/
// `ctl GET_STATUS` with a string map, sent back cbor-encoded (spec.md §4.6).
type statusProvider interface {
	Status(cmd string) (map[string]string, error)
}

// ChatSession backs the `cchat_*` hostcall family. It is a deterministic
// stand-in for a real chat provider (DESIGN.md open-question decision #3):
// `Send` synthesizes a reply from the buffered turn the same way
// handleTransform does (uppercase), rather than calling a model.
type ChatSession struct {
	mu       sync.Mutex
	params   map[string]string
	pending  []string // buffered via WriteMsg, flushed on Send
	response []byte   // populated by Send, drained by Recv
	ready    bool
	closed   bool
	notify   func()
}

// NewChatSession constructs an empty chat session; notify is called
// whenever Readiness() may have changed, so an epoll waiter wakes up.
func NewChatSession(notify func()) *ChatSession {
	return &ChatSession{params: make(map[string]string), notify: notify}
}

func (s *ChatSession) Kind() fd.Kind { return fd.KindChat }

func (s *ChatSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ChatSession) Readiness() fd.ReadinessMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return fd.EPOLLIN
	}
	return 0
}

// WriteMsg buffers one (role, text) turn for the next Send.
func (s *ChatSession) WriteMsg(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, role+": "+text)
}

// Send flushes the buffered turns into a synthesized response, ready for
// Recv.
func (s *ChatSession) Send() {
	s.mu.Lock()
	s.response = []byte(strings.ToUpper(strings.Join(s.pending, "\n")))
	s.pending = nil
	s.ready = true
	s.mu.Unlock()
	if s.notify != nil {
		s.notify()
	}
}

// Recv copies the buffered response into a maxLen-bounded slice. If maxLen
// is positive and smaller than the response, it returns ENOSPC and the
// needed size without consuming the buffer, so the guest can retry with a
// larger one (spec.md §8 S5).
func (s *ChatSession) Recv(maxLen int) (data []byte, neededLen int, errno fd.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, 0, 0
	}
	if maxLen > 0 && maxLen < len(s.response) {
		return nil, len(s.response), fd.ENOSPC
	}
	data = s.response
	s.response = nil
	s.ready = false
	return data, 0, 0
}

func (s *ChatSession) SetParam(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[key] = value
	return nil
}

func (s *ChatSession) Status(string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{"pending_turns": itoa(len(s.pending)), "ready": itoa(boolToInt(s.ready))}, nil
}

// ASRSession backs the `rtasr_*` hostcall family: a deterministic stand-in
// that reports how many audio bytes it has buffered instead of running real
// speech recognition (same stub posture as handleSpeak/handleRecord).
type ASRSession struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
}

func NewASRSession() *ASRSession { return &ASRSession{} }

func (s *ASRSession) Kind() fd.Kind { return fd.KindASR }

func (s *ASRSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *ASRSession) Readiness() fd.ReadinessMask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		return fd.EPOLLIN
	}
	return 0
}

func (s *ASRSession) Write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, data...)
}

// Read drains the buffered audio bytes and returns a stub transcript
// describing how many bytes were consumed.
func (s *ASRSession) Read(maxLen int) (data []byte, neededLen int, errno fd.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcript := []byte("transcribed " + itoa(len(s.buf)) + " bytes")
	if maxLen > 0 && maxLen < len(transcript) {
		return nil, len(transcript), fd.ENOSPC
	}
	s.buf = nil
	return transcript, 0, 0
}

func (s *ASRSession) SetParam(key, value string) error { return nil }

// MicSession backs the `mic_*` hostcall family: a read-only stub session
// that always reports silence, since there is no real microphone behind it
// (same posture as handleInput).
type MicSession struct {
	mu     sync.Mutex
	closed bool
}

func NewMicSession() *MicSession { return &MicSession{} }

func (s *MicSession) Kind() fd.Kind { return fd.KindMic }

func (s *MicSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MicSession) Readiness() fd.ReadinessMask { return fd.EPOLLIN }

func (s *MicSession) Read(maxLen int) (data []byte, neededLen int, errno fd.Errno) {
	return []byte{}, 0, 0
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
