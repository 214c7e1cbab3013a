package audio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// dcaMagic marks a DCA1 stream with a JSON metadata block
var dcaMagic = []byte("DCA1")

// maxFrameSize bounds a single opus frame. Anything larger means the
// stream is corrupt.
const maxFrameSize = 0x7FFF

// Metadata is the JSON block at the head of a DCA1 stream
type Metadata struct {
	Dca struct {
		Version int `json:"version"`
	} `json:"dca"`
	Info struct {
		Title  string `json:"title"`
		Artist string `json:"artist"`
	} `json:"info"`
	Opus struct {
		SampleRate int `json:"sample_rate"`
		Channels   int `json:"channels"`
		FrameSize  int `json:"frame_size"`
	} `json:"opus"`
}

// DCAReader reads opus frames from a DCA stream. Both raw frame
// streams (DCA0) and streams with a metadata header (DCA1) are
// handled.
type DCAReader struct {
	r        io.Reader
	metadata *Metadata
	started  bool
	// first holds bytes consumed while probing for the magic
	first []byte
}

// NewDCAReader wraps a DCA stream
func NewDCAReader(r io.Reader) *DCAReader {
	return &DCAReader{r: r}
}

// Metadata returns the DCA1 metadata block, or nil for raw streams.
// It is available after the first NextFrame call, or after calling
// ReadHeader.
func (d *DCAReader) Metadata() *Metadata {
	return d.metadata
}

// ReadHeader probes for the DCA1 magic and parses the metadata block
// if present. Raw DCA0 streams are left untouched apart from the four
// probed bytes, which the frame reader replays.
func (d *DCAReader) ReadHeader() error {
	if d.started {
		return nil
	}
	d.started = true

	probe := make([]byte, 4)
	n, err := io.ReadFull(d.r, probe)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Streams shorter than the probe hold no frames either;
			// keep the bytes so NextFrame reports a clean EOF
			d.first = probe[:n]
			return nil
		}
		return fmt.Errorf("failed to read dca header: %w", err)
	}

	if string(probe) != string(dcaMagic) {
		d.first = probe
		return nil
	}

	var size int32
	if err := binary.Read(d.r, binary.LittleEndian, &size); err != nil {
		return fmt.Errorf("failed to read dca metadata size: %w", err)
	}
	if size < 0 || size > 1<<20 {
		return fmt.Errorf("unreasonable dca metadata size: %d", size)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(d.r, raw); err != nil {
		return fmt.Errorf("failed to read dca metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return fmt.Errorf("failed to parse dca metadata: %w", err)
	}
	d.metadata = &meta
	return nil
}

// NextFrame returns the next opus frame. io.EOF signals a clean end of
// stream, io.ErrUnexpectedEOF a truncated frame.
func (d *DCAReader) NextFrame() ([]byte, error) {
	if !d.started {
		if err := d.ReadHeader(); err != nil {
			return nil, err
		}
	}

	var length int16
	if len(d.first) > 0 {
		// Replay the probed bytes from a raw stream
		if err := d.replayLength(&length); err != nil {
			return nil, err
		}
	} else {
		if err := binary.Read(d.r, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read frame length: %w", err)
		}
	}

	if length < 0 || length > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length: %d", length)
	}

	frame := make([]byte, length)
	if err := d.readFull(frame); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return frame, nil
}

// replayLength reads the frame length honoring leftover probe bytes
func (d *DCAReader) replayLength(length *int16) error {
	buf := make([]byte, 2)
	if err := d.readFull(buf); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("failed to read frame length: %w", err)
	}
	*length = int16(binary.LittleEndian.Uint16(buf))
	return nil
}

// readFull fills buf from the probe leftovers first, then the stream
func (d *DCAReader) readFull(buf []byte) error {
	off := 0
	for off < len(buf) && len(d.first) > 0 {
		buf[off] = d.first[0]
		d.first = d.first[1:]
		off++
	}
	if off == len(buf) {
		return nil
	}
	_, err := io.ReadFull(d.r, buf[off:])
	return err
}

// WriteFrame appends one opus frame in DCA framing. Used by the track
// transcoding pipeline and by tests.
func WriteFrame(w io.Writer, frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(frame))
	}
	if err := binary.Write(w, binary.LittleEndian, int16(len(frame))); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}
