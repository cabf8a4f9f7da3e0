// Package sampler yields every Nth decoded frame of a video as JPEG bytes.
// A Stream is lazy, finite and cannot be restarted.
package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/andresmejia3/faceauth/internal/types"
	"github.com/andresmejia3/faceauth/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoFrames is wrapped by DecodeError when the decoder yields nothing.
var ErrNoFrames = errors.New("decoder produced no frames")

// DecodeError means the video could not be opened or decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode error: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Sampler opens streams that keep frames at 1-based positions N, 2N, 3N...
type Sampler struct {
	Decoder Decoder
	Stride  int
}

// New returns a Sampler; a stride below 1 is treated as 1.
func New(d Decoder, stride int) *Sampler {
	return &Sampler{Decoder: d, Stride: max(stride, 1)}
}

// Open starts decoding r. The returned Stream must be closed.
func (s *Sampler) Open(ctx context.Context, r io.Reader) (*Stream, error) {
	dec := s.Decoder
	if dec == nil {
		dec = FFmpegDecoder{}
	}
	rc, err := dec.Open(ctx, r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	return &Stream{ctx: ctx, rc: rc, scanner: scanner, stride: max(s.Stride, 1)}, nil
}

// Stream is a single pass over the sampled frames.
type Stream struct {
	ctx     context.Context
	rc      io.ReadCloser
	scanner *bufio.Scanner
	stride  int

	position int // frames decoded so far
	sampled  int
	done     bool
	err      error
}

// Next returns the next sampled frame, or io.EOF once the video ends.
// Any other error is terminal and the decoder is already released.
func (s *Stream) Next() (types.FrameTask, error) {
	if s.done {
		return types.FrameTask{}, s.err
	}
	for s.scanner.Scan() {
		if err := s.ctx.Err(); err != nil {
			return types.FrameTask{}, s.finish(err)
		}
		s.position++
		if s.position%s.stride != 0 {
			continue
		}
		s.sampled++
		data := make([]byte, len(s.scanner.Bytes()))
		copy(data, s.scanner.Bytes())
		return types.FrameTask{Index: s.position, Data: data}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return types.FrameTask{}, s.finish(&DecodeError{Err: fmt.Errorf("frame scanner failed: %w", err)})
	}
	if err := s.release(); err != nil {
		return types.FrameTask{}, s.finish(&DecodeError{Err: err})
	}
	if s.position == 0 {
		return types.FrameTask{}, s.finish(&DecodeError{Err: ErrNoFrames})
	}
	return types.FrameTask{}, s.finish(io.EOF)
}

// All adapts the stream to a range-over-func loop. Iteration stops at the
// end of the video or after yielding the first error.
func (s *Stream) All() iter.Seq2[types.FrameTask, error] {
	return func(yield func(types.FrameTask, error) bool) {
		for {
			f, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Decoded is the number of frames read from the decoder so far.
func (s *Stream) Decoded() int { return s.position }

// Sampled is the number of frames returned by Next so far.
func (s *Stream) Sampled() int { return s.sampled }

// Close releases the decoder. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	err := s.release()
	s.finish(io.EOF)
	return err
}

func (s *Stream) release() error {
	if s.rc == nil {
		return nil
	}
	rc := s.rc
	s.rc = nil
	return rc.Close()
}

func (s *Stream) finish(err error) error {
	s.release()
	s.done = true
	s.err = err
	return err
}
