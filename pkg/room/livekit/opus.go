package livekit

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/lumen-devotional/lumen/pkg/audio"
)

// LiveKit negotiates 48 kHz Opus. Outbound microphone audio is published as
// mono; inbound agent audio is decoded as stereo.
const (
	opusSampleRate     = 48000
	opusSendChannels   = 1
	opusRecvChannels   = 2
	opusFrameDuration  = 20 // ms
	opusFrameSize      = opusSampleRate * opusFrameDuration / 1000 // 960 samples per channel
	opusMaxFrameSize   = opusSampleRate * 120 / 1000               // longest legal Opus packet
	opusSendFrameBytes = opusFrameSize * opusSendChannels * 2
)

// opusDecoder wraps a gopus decoder for one remote track. Each track keeps its
// own decoder so state carries across consecutive packets.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusRecvChannels)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns little-endian interleaved int16 PCM for one Opus packet.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("livekit: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusSendChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("livekit: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode compresses exactly one 20 ms frame of mono PCM.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	out, err := e.enc.Encode(audio.BytesToInt16s(pcm), opusFrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("livekit: opus encode: %w", err)
	}
	return out, nil
}
