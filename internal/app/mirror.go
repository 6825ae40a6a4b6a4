package app

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Store is the write side of the external document store.
type Store interface {
	PutProfile(ctx context.Context, id domain.UserID, fields domain.Fields) error
	PutRoomConfig(ctx context.Context, id domain.RoomID, fields domain.Fields) error
	AppendMessage(ctx context.Context, room domain.RoomID, msg domain.Message, keep int) error
}

type MirrorOptions struct {
	Workers   int
	QueueSize int
	Retries   int
	Backoff   time.Duration
	Timeout   time.Duration
	// KeepMessages bounds the mirrored chat log per room.
	KeepMessages int
}

type mirrorJob struct {
	op  string
	key string
	run func(ctx context.Context) error
}

// Mirror is the asynchronous write-through to the external store. Jobs for
// the same document always land on the same worker, so writes to one key
// keep their order. A full queue drops the write instead of blocking.
type Mirror struct {
	store  Store
	opts   MirrorOptions
	queues []chan mirrorJob
}

func NewMirror(store Store, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	m := &Mirror{store: store, opts: opts, queues: make([]chan mirrorJob, opts.Workers)}
	for i := range m.queues {
		m.queues[i] = make(chan mirrorJob, opts.QueueSize)
	}
	return m
}

func (m *Mirror) SaveProfile(id domain.UserID, fields domain.Fields) {
	m.enqueue(mirrorJob{op: "putProfile", key: "profile:" + string(id), run: func(ctx context.Context) error {
		return m.store.PutProfile(ctx, id, fields)
	}})
}

func (m *Mirror) SaveRoomConfig(id domain.RoomID, fields domain.Fields) {
	m.enqueue(mirrorJob{op: "putRoomConfig", key: "room:" + string(id), run: func(ctx context.Context) error {
		return m.store.PutRoomConfig(ctx, id, fields)
	}})
}

func (m *Mirror) AppendMessage(id domain.RoomID, msg domain.Message) {
	m.enqueue(mirrorJob{op: "appendMessage", key: "chat:" + string(id), run: func(ctx context.Context) error {
		return m.store.AppendMessage(ctx, id, msg, m.opts.KeepMessages)
	}})
}

func (m *Mirror) enqueue(j mirrorJob) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(j.key))
	q := m.queues[int(h.Sum32()%uint32(len(m.queues)))]
	select {
	case q <- j:
	default:
		log.Error().Str("module", "app.mirror").Str("op", j.op).Str("key", j.key).Msg("mirror queue full, write dropped")
	}
}

// Run processes jobs until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range m.queues {
		g.Go(func() error {
			m.work(ctx, i, q)
			return nil
		})
	}
	return g.Wait()
}

func (m *Mirror) work(ctx context.Context, worker int, q <-chan mirrorJob) {
	log.Info().Str("module", "app.mirror").Int("worker", worker).Msg("mirror worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.mirror").Int("worker", worker).Int("pending", len(q)).Msg("mirror worker stopped")
			return
		case j := <-q:
			m.do(ctx, j)
		}
	}
}

func (m *Mirror) do(ctx context.Context, j mirrorJob) {
	var err error
	for attempt := 0; attempt <= m.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.opts.Backoff * time.Duration(attempt)):
			}
		}
		jobCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
		err = j.run(jobCtx)
		cancel()
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrTransientIO) {
			break
		}
		log.Warn().Err(err).Str("module", "app.mirror").Str("op", j.op).Str("key", j.key).Int("attempt", attempt+1).Msg("mirror write failed")
	}
	log.Error().Err(err).Str("module", "app.mirror").Str("op", j.op).Str("key", j.key).Msg("mirror write dropped")
}
