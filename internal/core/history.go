package core

import "github.com/dkeye/voiceroom/internal/domain"

// history is a bounded FIFO of room messages; the oldest entry is evicted
// once capacity is reached.
type history struct {
	buf   []domain.Message
	start int
	n     int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{buf: make([]domain.Message, capacity)}
}

func (h *history) push(m domain.Message) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = m
		h.n++
		return
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// list returns messages oldest first.
func (h *history) list() []domain.Message {
	out := make([]domain.Message, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}
	return out
}
