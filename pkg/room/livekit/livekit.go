// Package livekit implements [room.Dialer] on top of the LiveKit Go SDK.
//
// Connect joins the room with a pre-issued access token and maps SDK
// callbacks onto the closed [room.Event] set. The local microphone is fed
// from an [audio.Source]: the first time it is enabled an Opus track is
// published and a pump goroutine starts encoding 20 ms frames into it; later
// toggles only mute or unmute the publication.
//
// Remote audio tracks are decoded to PCM when attached and handed to the
// playback function configured with [WithPlayback]. Without one the packets
// are drained so the SDK does not back up.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/lumen-devotional/lumen/pkg/audio"
	"github.com/lumen-devotional/lumen/pkg/room"
)

// DefaultChatTopic is the data-channel topic used for text messages.
const DefaultChatTopic = "lk-chat-topic"

// Option configures a [Dialer].
type Option func(*Dialer)

// WithMicrophone sets the capture source published when the microphone is
// enabled. Without it SetMicrophoneEnabled(true) fails.
func WithMicrophone(src audio.Source) Option {
	return func(d *Dialer) {
		d.mic = src
	}
}

// WithPlayback sets the sink for decoded remote audio.
func WithPlayback(fn func(audio.Frame)) Option {
	return func(d *Dialer) {
		d.playback = fn
	}
}

// WithChatTopic overrides [DefaultChatTopic].
func WithChatTopic(topic string) Option {
	return func(d *Dialer) {
		if topic != "" {
			d.topic = topic
		}
	}
}

// Dialer connects to LiveKit rooms. It is safe for concurrent use.
type Dialer struct {
	mic      audio.Source
	playback func(audio.Frame)
	topic    string
}

var _ room.Dialer = (*Dialer)(nil)

// New creates a Dialer.
func New(opts ...Option) *Dialer {
	d := &Dialer{topic: DefaultChatTopic}
	for _, o := range opts {
		o(d)
	}
	return d
}

type connectResult struct {
	room *lksdk.Room
	err  error
}

// Connect implements [room.Dialer]. The SDK join is not cancellable, so it
// runs in a goroutine; if ctx ends first the late room is disconnected when it
// arrives.
//
// The server SDK has no capture processing chain and no adaptive stream, so
// opts is advisory here: the settings are logged and otherwise ignored. Echo
// cancellation, noise suppression and gain control are left to the
// [audio.Source] passed to [WithMicrophone].
func (d *Dialer) Connect(ctx context.Context, serverURL, token string, opts room.Options, handler room.Handler) (room.Session, error) {
	s := &session{
		dialer:  d,
		handler: handler,
		done:    make(chan struct{}),
	}

	resCh := make(chan connectResult, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(serverURL, token, s.callback(),
			lksdk.WithAutoSubscribe(true),
		)
		resCh <- connectResult{room: r, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("livekit: connect: %w: %v", room.ErrTransport, res.err)
		}
		s.room = res.room
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	slog.Info("livekit: joined room",
		"room", s.room.Name(),
		"adaptive_stream", opts.AdaptiveStream,
		"echo_cancellation", opts.EchoCancellation,
		"noise_suppression", opts.NoiseSuppression,
		"auto_gain_control", opts.AutoGainControl,
	)
	s.emit(room.Connected{})
	return s, nil
}

// session is the joined room returned by [Dialer.Connect].
type session struct {
	dialer  *Dialer
	handler room.Handler
	room    *lksdk.Room

	mu      sync.Mutex
	pub     *lksdk.LocalTrackPublication
	track   *lksdk.LocalSampleTrack
	pumping bool

	closeOnce sync.Once
	done      chan struct{}
}

var _ room.Session = (*session)(nil)

func (s *session) emit(ev room.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	if s.handler != nil {
		s.handler(ev)
	}
}

func (s *session) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnDisconnected: func() {
			s.emit(room.Disconnected{})
		},
		OnReconnected: func() {
			s.emit(room.Connected{})
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			s.emit(room.ParticipantConnected{Identity: rp.Identity()})
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				s.emit(room.TrackSubscribed{
					Track:       s.newRemoteTrack(track, pub.SID()),
					Participant: rp.Identity(),
				})
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				s.emit(room.TrackUnsubscribed{
					Track:       s.newRemoteTrack(track, pub.SID()),
					Participant: rp.Identity(),
				})
			},
			OnTrackSubscriptionFailed: func(sid string, rp *lksdk.RemoteParticipant) {
				s.emit(room.Error{Err: fmt.Errorf("livekit: subscribe track %s from %s failed", sid, rp.Identity())})
			},
		},
	}
}

// SetMicrophoneEnabled implements [room.Session].
func (s *session) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pub != nil {
		s.pub.SetMuted(!enabled)
		return nil
	}
	if !enabled {
		return nil
	}
	if s.dialer.mic == nil {
		return fmt.Errorf("livekit: enable microphone: %w: no capture source configured", room.ErrTransport)
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusSendChannels,
	})
	if err != nil {
		return fmt.Errorf("livekit: create microphone track: %w: %v", room.ErrTransport, err)
	}
	pub, err := s.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		return fmt.Errorf("livekit: publish microphone: %w: %v", room.ErrTransport, err)
	}
	s.pub = pub
	s.track = track
	if !s.pumping {
		s.pumping = true
		go s.pumpMicrophone(track)
	}
	return nil
}

// MicrophoneEnabled implements [room.Session].
func (s *session) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pub != nil && !s.pub.IsMuted()
}

// SendText implements [room.Session].
func (s *session) SendText(_ context.Context, text string) error {
	err := s.room.LocalParticipant.PublishData([]byte(text),
		lksdk.WithDataPublishTopic(s.dialer.topic),
		lksdk.WithDataPublishReliable(true),
	)
	if err != nil {
		return fmt.Errorf("livekit: send text: %w: %v", room.ErrTransport, err)
	}
	return nil
}

// Disconnect implements [room.Session].
func (s *session) Disconnect(context.Context) error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.room != nil {
			s.room.Disconnect()
		}
	})
	return nil
}

// pumpMicrophone converts captured frames to 48 kHz mono, slices them into
// exact 20 ms Opus frames and writes them to the published track.
func (s *session) pumpMicrophone(track *lksdk.LocalSampleTrack) {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("livekit: microphone disabled", "error", err)
		return
	}
	conv := audio.Converter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusSendChannels}}
	frames := s.dialer.mic.Frames()

	var buf []byte
	for {
		select {
		case <-s.done:
			return
		case frame, ok := <-frames:
			if !ok {
				slog.Info("livekit: microphone source closed")
				return
			}
			buf = append(buf, conv.Convert(frame).Data...)

			for len(buf) >= opusSendFrameBytes {
				packet, eErr := enc.encode(buf[:opusSendFrameBytes])
				buf = buf[opusSendFrameBytes:]
				if eErr != nil {
					slog.Warn("livekit: opus encode error", "error", eErr)
					continue
				}
				sample := media.Sample{Data: packet, Duration: opusFrameDuration * time.Millisecond}
				if wErr := track.WriteSample(sample, nil); wErr != nil && !errors.Is(wErr, context.Canceled) {
					slog.Debug("livekit: write sample", "error", wErr)
				}
			}
		}
	}
}
