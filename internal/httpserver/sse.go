package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aoi0913/fleetwatch/internal/message"
)

const sendBuffer = 32

// sseSession adapts a Server-Sent Events response into a session.Session.
// Send only queues; the handler goroutine that owns the ResponseWriter
// drains the queue, so envelopes reach the client in Send order.
type sseSession struct {
	id        string
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSESession(id string) *sseSession {
	return &sseSession{
		id:     id,
		frames: make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *sseSession) ID() string {
	return s.id
}

func (s *sseSession) Send(env message.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(env.Type)+len(data)+16)
	frame = append(frame, "event: "...)
	frame = append(frame, env.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)

	select {
	case s.frames <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("session %s closed", s.id)
	default:
		// A client that cannot drain its buffer is treated as dead.
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

func (s *sseSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
}

// serve streams queued frames until the client goes away or the session is
// closed by the registry. Keepalive comments hold idle connections open
// through proxies.
func (s *sseSession) serve(w http.ResponseWriter, r *http.Request, flusher http.Flusher) {
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	clientGone := r.Context().Done()

	for {
		select {
		case <-clientGone:
			return
		case <-s.done:
			return
		case frame := <-s.frames:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
