package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"

	"github.com/veebot/veebot/pkg/audio"
	"github.com/veebot/veebot/pkg/metrics"
)

// payloadTypeOpus is the RTP payload type Discord voice expects
const payloadTypeOpus = 0x78

// ErrConnectionClosed means the voice connection died mid-stream
var ErrConnectionClosed = errors.New("voice connection closed")

// Play streams opus frames from the source until it is exhausted, the
// context ends or the connection dies. Frames are paced at the frame
// duration, the jitter silence is appended at the end.
func (c *Connection) Play(ctx context.Context, src audio.FrameSource) error {
	cfg := audio.DefaultConfig()

	if err := c.Speaking(true); err != nil {
		return fmt.Errorf("failed to signal speaking: %w", err)
	}

	ticker := time.NewTicker(cfg.FrameDuration)
	defer ticker.Stop()

	var streamErr error
	for {
		frame, err := src.NextFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			streamErr = fmt.Errorf("track source failed: %w", err)
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.finish(ticker, cfg)
			return ctx.Err()
		case <-c.closed:
			return ErrConnectionClosed
		}

		if err := c.sendFrame(frame, cfg); err != nil {
			select {
			case <-c.closed:
				return ErrConnectionClosed
			default:
			}
			return err
		}
		metrics.RecordVoiceFrames(1)
	}

	c.finish(ticker, cfg)
	return streamErr
}

// finish appends the silence frames and clears the speaking flag
func (c *Connection) finish(ticker *time.Ticker, cfg audio.Config) {
	for i := 0; i < audio.SilenceFrameCount; i++ {
		select {
		case <-ticker.C:
		case <-c.closed:
			return
		}
		if err := c.sendFrame(audio.SilenceFrame, cfg); err != nil {
			break
		}
	}
	c.Speaking(false)
}

// sendFrame seals one opus frame into an RTP packet and sends it
func (c *Connection) sendFrame(opus []byte, cfg audio.Config) error {
	header := rtp.Header{
		Version:        2,
		PayloadType:    payloadTypeOpus,
		SequenceNumber: c.sequence,
		Timestamp:      c.timestamp,
		SSRC:           c.ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal rtp header: %w", err)
	}

	packet, err := encryptFrame(c.mode, &c.secretKey, headerBytes, opus)
	if err != nil {
		return err
	}

	if _, err := c.udp.Write(packet); err != nil {
		return fmt.Errorf("failed to send media packet: %w", err)
	}

	c.sequence++
	c.timestamp += cfg.SamplesPerFrame()
	return nil
}
