// Package audio handles the opus frame plumbing between track sources
// and the voice connection. Frames are pre-encoded opus packets; the
// bot never re-encodes audio.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds the audio parameters of the voice connection. Discord
// expects 48kHz stereo opus in 20ms frames.
type Config struct {
	SampleRate    int           // Samples per second (48000)
	Channels      int           // 2 = stereo
	FrameSize     int           // Samples per frame per channel (960)
	FrameDuration time.Duration // Duration of each frame (20ms)
}

// DefaultConfig returns the frame parameters Discord voice expects
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		Channels:      2,
		FrameSize:     960, // 20ms at 48kHz
		FrameDuration: 20 * time.Millisecond,
	}
}

// SamplesPerFrame returns the RTP timestamp increment per frame
func (c Config) SamplesPerFrame() uint32 {
	return uint32(c.FrameSize)
}

// SilenceFrame is the opus frame Discord expects around speech so that
// receivers can flush their jitter buffers
var SilenceFrame = []byte{0xF8, 0xFF, 0xFE}

// SilenceFrameCount is how many silence frames are sent when a stream
// starts or stops
const SilenceFrameCount = 5

// FrameSource yields one opus frame per call. It returns io.EOF when
// the stream is exhausted.
type FrameSource interface {
	NextFrame() ([]byte, error)
}

// FrameQueue buffers opus frames between a decoder goroutine and the
// sender. Closing the queue wakes up both sides.
type FrameQueue struct {
	frames    chan []byte
	closeOnce sync.Once
	closeChan chan struct{}
}

// NewFrameQueue creates a queue holding up to size frames
func NewFrameQueue(size int) *FrameQueue {
	return &FrameQueue{
		frames:    make(chan []byte, size),
		closeChan: make(chan struct{}),
	}
}

// Push adds a frame, blocking while the queue is full
func (q *FrameQueue) Push(ctx context.Context, frame []byte) error {
	select {
	case q.frames <- frame:
		return nil
	case <-q.closeChan:
		return fmt.Errorf("frame queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes a frame, blocking while the queue is empty
func (q *FrameQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.closeChan:
		// Drain anything already buffered before reporting closed
		select {
		case frame := <-q.frames:
			return frame, nil
		default:
			return nil, fmt.Errorf("frame queue is closed")
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the queue down. Safe to call more than once.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closeChan)
	})
}

// Len returns the number of buffered frames
func (q *FrameQueue) Len() int {
	return len(q.frames)
}
