// Package livekit implements [audio.Platform] on a LiveKit server with
// github.com/livekit/server-sdk-go.
//
// The bot joins as its own participant, subscribes to every remote
// microphone track, and publishes one Opus track for its voice. Reliable
// user data packets carry transcripts and answers.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/aulavoz/voicetutor/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Option configures a Platform.
type Option func(*Platform)

// WithParticipantName sets the display name. Defaults to the identity.
func WithParticipantName(name string) Option {
	return func(p *Platform) { p.name = name }
}

// WithoutVoice skips publishing an output track. OutputStream frames are
// then discarded.
func WithoutVoice() Option {
	return func(p *Platform) { p.voice = false }
}

// Platform joins LiveKit rooms with API key credentials.
type Platform struct {
	url       string
	apiKey    string
	apiSecret string
	identity  string
	name      string
	voice     bool
}

// New creates a Platform for the server at url.
func New(url, apiKey, apiSecret, identity string, opts ...Option) (*Platform, error) {
	var errs []error
	if url == "" {
		errs = append(errs, errors.New("url must not be empty"))
	}
	if apiKey == "" || apiSecret == "" {
		errs = append(errs, errors.New("api key and secret are required"))
	}
	if identity == "" {
		errs = append(errs, errors.New("identity must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("livekit: %w", err)
	}
	p := &Platform{url: url, apiKey: apiKey, apiSecret: apiSecret, identity: identity, name: identity, voice: true}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Connect implements [audio.Platform]. ctx bounds the join only; the
// returned connection lives until Disconnect.
func (p *Platform) Connect(ctx context.Context, roomName string) (audio.Connection, error) {
	if roomName == "" {
		return nil, errors.New("livekit: room name must not be empty")
	}
	conn := newConnection(p.identity)

	cb := &lksdk.RoomCallback{
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			conn.closeInput(rp.Identity(), nil)
		},
		OnDisconnected: func() {
			slog.Warn("livekit: disconnected from room", "room", roomName)
			conn.lost()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio || rp.Identity() == p.identity {
					return
				}
				slog.Debug("livekit: audio track subscribed", "participant", rp.Identity(), "track", pub.SID())
				remote := participant{identity: rp.Identity(), name: rp.Name(), metadata: rp.Metadata()}
				go conn.readTrack(remote, func() (*rtp.Packet, error) {
					pkt, _, err := track.ReadRTP()
					return pkt, err
				})
			},
		},
	}

	type joined struct {
		room *lksdk.Room
		err  error
	}
	res := make(chan joined, 1)
	go func() {
		r, err := lksdk.ConnectToRoom(p.url, lksdk.ConnectInfo{
			APIKey:              p.apiKey,
			APISecret:           p.apiSecret,
			RoomName:            roomName,
			ParticipantIdentity: p.identity,
			ParticipantName:     p.name,
		}, cb)
		res <- joined{r, err}
	}()

	var j joined
	select {
	case j = <-res:
	case <-ctx.Done():
		go func() {
			if late := <-res; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, fmt.Errorf("livekit: join %q: %w", roomName, ctx.Err())
	}
	if j.err != nil {
		return nil, fmt.Errorf("livekit: join %q: %w", roomName, j.err)
	}

	var track sampleWriter
	if p.voice {
		t, err := publishVoice(j.room, p.name)
		if err != nil {
			j.room.Disconnect()
			return nil, err
		}
		track = t
	}
	conn.attach(sdkRoom{j.room}, track)

	slog.Info("livekit: joined room", "room", j.room.Name(), "identity", p.identity)
	return conn, nil
}

func publishVoice(r *lksdk.Room, name string) (*lksdk.LocalSampleTrack, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	})
	if err != nil {
		return nil, fmt.Errorf("livekit: create voice track: %w", err)
	}
	if _, err := r.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   name + "-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("livekit: publish voice track: %w", err)
	}
	return track, nil
}

// sdkRoom adapts *lksdk.Room to the connection's room interface.
type sdkRoom struct{ r *lksdk.Room }

func (s sdkRoom) publish(payload []byte, topic string) error {
	lp := s.r.LocalParticipant
	if lp == nil {
		return audio.ErrNoLocalParticipant
	}
	opts := []lksdk.DataPublishOption{lksdk.WithDataPublishReliable(true)}
	if topic != "" {
		opts = append(opts, lksdk.WithDataPublishTopic(topic))
	}
	if err := lp.PublishDataPacket(lksdk.UserData(payload), opts...); err != nil {
		return fmt.Errorf("livekit: publish data: %w", err)
	}
	return nil
}

func (s sdkRoom) disconnect() { s.r.Disconnect() }
