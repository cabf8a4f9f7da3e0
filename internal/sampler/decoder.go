package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/andresmejia3/faceauth/internal/utils"
)

// Decoder turns an encoded video into a stream of concatenated JPEG frames.
type Decoder interface {
	Open(ctx context.Context, r io.Reader) (io.ReadCloser, error)
}

// FFmpegDecoder pipes the container through ffmpeg and reads MJPEG back.
type FFmpegDecoder struct{}

func (FFmpegDecoder) Open(ctx context.Context, r io.Reader) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCmd(ctx)
	cmd.Stdin = r

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return &ffmpegStream{ReadCloser: out, cmd: cmd, cancel: cancel, stderr: &stderr}, nil
}

type ffmpegStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *strings.Builder

	eof  bool
	once sync.Once
	err  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		s.eof = true
	}
	return n, err
}

// Close reaps ffmpeg. If it is closed before the stream is drained the
// process is killed, and the resulting exit status is not an error.
func (s *ffmpegStream) Close() error {
	s.once.Do(func() {
		if !s.eof {
			s.cancel()
		}
		// Closing stdout unblocks an ffmpeg stuck writing to a full pipe.
		s.ReadCloser.Close()
		err := s.cmd.Wait()
		s.cancel()
		if err != nil && s.eof {
			if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			s.err = fmt.Errorf("ffmpeg failed: %w", err)
		}
	})
	return s.err
}

// MJPEGDecoder passes through input that is already concatenated JPEG.
type MJPEGDecoder struct{}

func (MJPEGDecoder) Open(_ context.Context, r io.Reader) (io.ReadCloser, error) {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r), nil
}
