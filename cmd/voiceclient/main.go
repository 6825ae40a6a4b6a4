package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voiceroom/internal/client"
	"github.com/dkeye/voiceroom/internal/client/mesh"
	"github.com/dkeye/voiceroom/internal/client/speaking"
	"github.com/dkeye/voiceroom/internal/domain"
)

// Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func main() {
	url := pflag.String("url", "ws://localhost:8080/api/ws/signal", "signalling endpoint")
	room := pflag.String("room", "lobby", "room to join")
	id := pflag.String("id", "", "user id")
	name := pflag.String("name", "", "display name (defaults to the id)")
	role := pflag.String("role", string(domain.RoleMember), "claimed role")
	mic := pflag.Bool("mic", false, "switch the microphone on after joining")
	levels := pflag.Bool("levels", false, "read audio levels (one float per line) from stdin")
	threshold := pflag.Float64("threshold", 0.1, "speaking threshold")
	hold := pflag.Duration("hold", 200*time.Millisecond, "speaking hold time")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *name == "" {
		*name = *id
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	self := domain.UserID(*id)
	ident, err := domain.NewIdentity(self, *name, "", domain.Role(*role))
	if err != nil {
		log.Fatal().Err(err).Msg("bad identity")
	}
	track, err := mesh.NewOpusTrack(self)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create audio track")
	}
	factory := mesh.NewPionFactory(track)
	factory.OnTrack = func(remote domain.UserID, t *webrtc.TrackRemote) {
		buf := make([]byte, 1500)
		for {
			if _, _, err := t.Read(buf); err != nil {
				return
			}
		}
	}

	c, err := client.Dial(ctx, client.Options{
		URL:      *url,
		Room:     domain.RoomID(*room),
		Identity: *ident,
		Speaking: speaking.Options{Threshold: *threshold, Hold: *hold},
	}, factory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer func() { _ = c.Close() }()

	if err := c.Join(); err != nil {
		log.Fatal().Err(err).Msg("failed to join")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.Run(ctx)
	})
	g.Go(func() error {
		for !c.Joined() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}
		}
		log.Info().Str("module", "voiceclient").Str("room", *room).Msg("joined")
		if *mic {
			return c.SetMic(ctx, true)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if c.Mesh().MicOn() {
					_ = track.WriteOpus(opusSilence)
				}
			}
		}
	})
	if *levels {
		go readLevels(c)
	}

	err = g.Wait()
	switch {
	case errors.Is(err, client.ErrBanned), errors.Is(err, client.ErrKicked):
		log.Warn().Err(err).Msg("removed")
		os.Exit(2)
	case err != nil && !errors.Is(err, context.Canceled):
		log.Fatal().Err(err).Msg("client stopped")
	}
	log.Info().Msg("bye")
}

// readLevels blocks on stdin, so it runs outside the errgroup.
func readLevels(c *client.Client) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		v, err := strconv.ParseFloat(strings.TrimSpace(sc.Text()), 64)
		if err != nil {
			log.Warn().Err(err).Str("module", "voiceclient").Msg("bad level")
			continue
		}
		c.Level(v)
	}
}
