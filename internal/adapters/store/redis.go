package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Redis stores profiles and room configs as hashes and the chat mirror as
// a capped list.
type Redis struct {
	rdb *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedis(opts RedisOptions) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (s *Redis) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return ioErr("ping", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func profileKey(id domain.UserID) string { return "profile:" + string(id) }
func roomKey(id domain.RoomID) string    { return "roomcfg:" + string(id) }
func chatKey(id domain.RoomID) string    { return "chat:" + string(id) }

func (s *Redis) GetProfile(ctx context.Context, id domain.UserID) (*domain.Profile, error) {
	cmd := s.rdb.HGetAll(ctx, profileKey(id))
	vals, err := cmd.Result()
	if err != nil {
		return nil, ioErr("hgetall", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: profile %s", domain.ErrNotFound, id)
	}
	var p domain.Profile
	if err := cmd.Scan(&p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	p.ID = id
	return &p, nil
}

func (s *Redis) PutProfile(ctx context.Context, id domain.UserID, f domain.Fields) error {
	var check domain.Profile
	if err := applyProfile(&check, f); err != nil {
		return err
	}
	if len(f) == 0 {
		return nil
	}
	if err := s.rdb.HSet(ctx, profileKey(id), map[string]any(f)).Err(); err != nil {
		return ioErr("hset", err)
	}
	return nil
}

func (s *Redis) GetRoomConfig(ctx context.Context, id domain.RoomID) (*domain.RoomConfig, error) {
	vals, err := s.rdb.HGetAll(ctx, roomKey(id)).Result()
	if err != nil {
		return nil, ioErr("hgetall", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	cfg := domain.DefaultRoomConfig(id)
	for k, v := range vals {
		switch k {
		case "name":
			cfg.Name = domain.RoomName(v)
		case "description":
			cfg.Description = v
		case "background":
			cfg.Background = v
		case "music":
			cfg.Music = v
		case "micLock":
			cfg.MicLock, _ = strconv.ParseBool(v)
		case "pinnedMessage":
			pinned := v
			cfg.PinnedMessage = &pinned
		case "moderators":
			err = json.Unmarshal([]byte(v), &cfg.Moderators)
		case "stageSlots":
			err = json.Unmarshal([]byte(v), &cfg.StageSlots)
		default:
			log.Debug().Str("module", "adapters.store").Str("room", string(id)).Str("field", k).Msg("ignoring unknown room field")
		}
		if err != nil {
			return nil, fmt.Errorf("decode room %s field %s: %w", id, k, err)
		}
	}
	return &cfg, nil
}

// PutRoomConfig writes list fields as JSON; a nil pinned message deletes
// the field.
func (s *Redis) PutRoomConfig(ctx context.Context, id domain.RoomID, f domain.Fields) error {
	var check domain.RoomConfig
	if err := applyRoomConfig(&check, f); err != nil {
		return err
	}
	set := make(map[string]any, len(f))
	var del []string
	for k, v := range f {
		switch k {
		case "moderators", "stageSlots":
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode room field %s: %w", k, err)
			}
			set[k] = string(raw)
		case "pinnedMessage":
			if p, _ := toPinned(v); p != nil {
				set[k] = *p
			} else {
				del = append(del, k)
			}
		default:
			set[k] = v
		}
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, roomKey(id), set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, roomKey(id), del...)
		}
		return nil
	})
	if err != nil {
		return ioErr("hset", err)
	}
	return nil
}

// AppendMessage pushes and trims in one transaction; keep <= 0 keeps all.
func (s *Redis) AppendMessage(ctx context.Context, id domain.RoomID, msg domain.Message, keep int) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, chatKey(id), msg)
		if keep > 0 {
			pipe.LTrim(ctx, chatKey(id), int64(-keep), -1)
		}
		return nil
	})
	if err != nil {
		return ioErr("rpush", err)
	}
	return nil
}

func (s *Redis) Messages(ctx context.Context, id domain.RoomID) ([]domain.Message, error) {
	raw, err := s.rdb.LRange(ctx, chatKey(id), 0, -1).Result()
	if err != nil {
		return nil, ioErr("lrange", err)
	}
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := m.UnmarshalBinary([]byte(r)); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func ioErr(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	}
	return fmt.Errorf("%w: redis %s: %v", domain.ErrTransientIO, op, err)
}
