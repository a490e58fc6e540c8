package livekit

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lumen-devotional/lumen/pkg/audio"
	"github.com/lumen-devotional/lumen/pkg/room"
)

// remoteTrack adapts a subscribed WebRTC track to [room.Track].
type remoteTrack struct {
	sess   *session
	sid    string
	kind   room.TrackKind
	remote *webrtc.TrackRemote

	once sync.Once
}

var _ room.Track = (*remoteTrack)(nil)

func (s *session) newRemoteTrack(t *webrtc.TrackRemote, sid string) *remoteTrack {
	return &remoteTrack{sess: s, sid: sid, kind: trackKind(t), remote: t}
}

func trackKind(t *webrtc.TrackRemote) room.TrackKind {
	if t != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
		return room.KindVideo
	}
	return room.KindAudio
}

func (t *remoteTrack) SID() string          { return t.sid }
func (t *remoteTrack) Kind() room.TrackKind { return t.kind }

// Attach starts the receive loop. Only the first call has an effect.
func (t *remoteTrack) Attach() error {
	if t.remote == nil {
		return errors.New("livekit: attach: track has no media")
	}
	t.once.Do(func() {
		go t.recvLoop()
	})
	return nil
}

// recvLoop reads RTP packets until the track ends. Audio payloads are decoded
// and delivered to the playback sink; everything else is discarded.
func (t *remoteTrack) recvLoop() {
	var dec *opusDecoder
	playback := t.sess.dialer.playback
	if t.kind == room.KindAudio && playback != nil {
		var err error
		if dec, err = newOpusDecoder(); err != nil {
			slog.Error("livekit: playback disabled", "track", t.sid, "error", err)
		}
	}

	for {
		pkt, _, err := t.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("livekit: track read ended", "track", t.sid, "error", err)
			}
			return
		}
		if dec == nil || len(pkt.Payload) == 0 {
			continue
		}
		pcm, dErr := dec.decode(pkt.Payload)
		if dErr != nil {
			slog.Warn("livekit: opus decode error", "track", t.sid, "error", dErr)
			continue
		}
		playback(audio.Frame{Data: pcm, SampleRate: opusSampleRate, Channels: opusRecvChannels})
	}
}
