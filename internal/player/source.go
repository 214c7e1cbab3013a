package player

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/veebot/veebot/pkg/audio"
	"github.com/veebot/veebot/pkg/logger"
)

// TrackStream is a frame source that must be closed when playback ends
type TrackStream interface {
	audio.FrameSource
	io.Closer
}

// SourceProvider turns a queued track into an opus frame stream
type SourceProvider interface {
	Open(ctx context.Context, track *Track) (TrackStream, error)
}

// ExecProvider shells out to a configured pipeline that writes a DCA
// stream to stdout, typically a downloader piped into a DCA encoder.
type ExecProvider struct {
	command string
	log     *logger.Logger
}

// NewExecProvider creates a provider for the given shell pipeline. The
// pipeline must contain the {{url}} placeholder.
func NewExecProvider(command string, log *logger.Logger) (*ExecProvider, error) {
	if !strings.Contains(command, "{{url}}") {
		return nil, fmt.Errorf("stream command %q has no {{url}} placeholder", command)
	}
	if log == nil {
		log = logger.Global()
	}
	return &ExecProvider{
		command: command,
		log:     log.WithComponent("stream"),
	}, nil
}

// Open starts the pipeline for a track. Cancelling ctx kills the
// pipeline; Close must still be called to reap it.
func (p *ExecProvider) Open(ctx context.Context, track *Track) (TrackStream, error) {
	ctx, cancel := context.WithCancel(ctx)

	command := strings.ReplaceAll(p.command, "{{url}}", shellQuote(track.URL))
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start stream command: %w", err)
	}

	p.log.Debug("stream command started", "title", track.Title, "pid", cmd.Process.Pid)

	return &execStream{
		dca:    audio.NewDCAReader(stdout),
		cmd:    cmd,
		cancel: cancel,
		log:    p.log,
	}, nil
}

// execStream adapts a running pipeline into a frame source
type execStream struct {
	dca    *audio.DCAReader
	cmd    *exec.Cmd
	cancel context.CancelFunc
	log    *logger.Logger

	frames    int
	closeOnce sync.Once
}

func (s *execStream) NextFrame() ([]byte, error) {
	frame, err := s.dca.NextFrame()
	if err == io.EOF && s.frames == 0 {
		// The pipeline exited without writing a single frame, which
		// means the download or the encode failed
		return nil, fmt.Errorf("stream command produced no audio")
	}
	if err == nil {
		s.frames++
	}
	return frame, err
}

// Close kills the pipeline if it is still running and reaps it. A kill
// after a skip is the expected way to end a stream, so the exit status
// is only logged.
func (s *execStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.cmd.Wait(); err != nil {
			s.log.Debug("stream command exited", "error", err)
		}
	})
	return nil
}

// shellQuote wraps s in single quotes for safe interpolation into a
// shell pipeline
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
