package relay

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

var errClientStalled = errors.New("client stopped reading")

// clientSink writes chunks to the caller on its own goroutine. Once a write
// fails, times out, or the queue stays full for writeTimeout, the rest are
// dropped and Send stops blocking.
type clientSink struct {
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration

	ch        chan string
	dead      chan struct{}
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	err     error
	written int
}

func newClientSink(w io.Writer, buffer int, writeTimeout time.Duration) *clientSink {
	s := &clientSink{
		w:            w,
		writeTimeout: writeTimeout,
		ch:           make(chan string, buffer),
		dead:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		s.rc = http.NewResponseController(rw)
	}
	go s.loop()
	return s
}

func (s *clientSink) loop() {
	defer close(s.done)
	flusher, _ := s.w.(http.Flusher)
	for chunk := range s.ch {
		if s.failed() {
			continue
		}
		if s.rc != nil {
			// ErrNotSupported leaves the write unbounded; Send still bounds the relay
			_ = s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		n, err := io.WriteString(s.w, chunk)
		s.mu.Lock()
		s.written += n
		s.mu.Unlock()
		if err != nil {
			s.fail(err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *clientSink) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.dead)
	})
}

func (s *clientSink) failed() bool {
	select {
	case <-s.dead:
		return true
	default:
		return false
	}
}

// Send queues chunk for the client. It waits at most writeTimeout for queue
// space, then gives up on the client for good.
func (s *clientSink) Send(chunk string) {
	if chunk == "" {
		return
	}
	select {
	case s.ch <- chunk:
		return
	case <-s.dead:
		return
	default:
	}

	t := time.NewTimer(s.writeTimeout)
	defer t.Stop()
	select {
	case s.ch <- chunk:
	case <-s.dead:
	case <-t.C:
		s.fail(errClientStalled)
	}
}

// Close flushes queued chunks and waits for the writer to stop. A writer
// stuck in Write is waited on for writeTimeout only.
func (s *clientSink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
	select {
	case <-s.done:
		return
	default:
	}

	t := time.NewTimer(s.writeTimeout)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		s.fail(errClientStalled)
	}
}

func (s *clientSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *clientSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
