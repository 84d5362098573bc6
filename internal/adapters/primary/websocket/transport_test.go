package websocket

import (
	"io"
	"sync"
	"time"
)

// fakeTransport is an in-memory Transport that records every frame written
// to it. ReadMessage blocks until the transport is closed, like a quiet peer.
type fakeTransport struct {
	mu            sync.Mutex
	frames        [][]byte
	controlFrames [][]byte
	controlTypes  []int
	writeErr      error
	closeCount    int

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closedCh: make(chan struct{})}
}

func (t *fakeTransport) ReadMessage() (int, []byte, error) {
	<-t.closedCh
	return 0, nil, io.ErrClosedPipe
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.frames = append(t.frames, buf)
	return nil
}

func (t *fakeTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	t.controlFrames = append(t.controlFrames, buf)
	t.controlTypes = append(t.controlTypes, messageType)
	return nil
}

func (t *fakeTransport) SetReadLimit(limit int64)             {}
func (t *fakeTransport) SetWriteDeadline(tm time.Time) error  { return nil }
func (t *fakeTransport) SetPongHandler(h func(string) error)  {}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.closedCh) })
	return nil
}

func (t *fakeTransport) setWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *fakeTransport) writtenFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.frames))
	copy(out, t.frames)
	return out
}

func (t *fakeTransport) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount > 0
}
