package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/andresmejia3/faceauth/internal/types"
	"github.com/andresmejia3/faceauth/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// Upper bounds that keep a corrupted header from allocating gigabytes.
	maxResponseBytes = 64 << 20
	maxFaces         = 256
	maxEmbeddingDim  = 4096
)

// ErrProtocol means the worker sent bytes that do not follow the protocol.
var ErrProtocol = errors.New("worker protocol violation")

// WorkerError is a failure the Python side reported for a single frame.
// The worker is still healthy afterwards.
type WorkerError struct {
	Msg string
}

func (e *WorkerError) Error() string { return "python worker error: " + e.Msg }

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewPythonWorker starts `python -u script` with a side-channel pipe on FD 3
// for responses, keeping stdout free for the model's own chatter.
func NewPythonWorker(ctx context.Context, id int, python, script string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(ctx, python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed request and reads one
// length-prefixed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponseBytes {
		return nil, fmt.Errorf("%w: response of %d bytes", ErrProtocol, respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends one JPEG and decodes the detections in the reply.
func (w *PythonWorker) ProcessFrame(frame []byte) ([]types.RawDetection, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// decodeResponse parses
//
//	[status u8] OK:    [n u32] n x {[bbox 4xi32][conf f32][yaw pitch roll 3xf32][dim u32][vec dim x f32]}
//	            Error: [msgLen u32][msg]
func decodeResponse(resp []byte) ([]types.RawDetection, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty response", ErrProtocol)
	}

	if status == statusError {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("%w: truncated error message", ErrProtocol)
		}
		if int64(msgLen) > int64(r.Len()) {
			return nil, fmt.Errorf("%w: error message length %d exceeds payload", ErrProtocol, msgLen)
		}
		msg := make([]byte, msgLen)
		io.ReadFull(r, msg)
		return nil, &WorkerError{Msg: string(msg)}
	}
	if status != statusOK {
		return nil, fmt.Errorf("%w: unknown status %d", ErrProtocol, status)
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: missing face count", ErrProtocol)
	}
	if n > maxFaces {
		return nil, fmt.Errorf("%w: %d faces", ErrProtocol, n)
	}

	dets := make([]types.RawDetection, 0, n)
	for i := range n {
		var head struct {
			Box        [4]int32
			Confidence float32
			Pose       [3]float32
			Dim        uint32
		}
		if err := binary.Read(r, binary.BigEndian, &head); err != nil {
			return nil, fmt.Errorf("%w: face %d header: %v", ErrProtocol, i, err)
		}
		if head.Dim == 0 || head.Dim > maxEmbeddingDim {
			return nil, fmt.Errorf("%w: face %d embedding dim %d", ErrProtocol, i, head.Dim)
		}
		vec := make([]float32, head.Dim)
		if err := binary.Read(r, binary.BigEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: face %d embedding: %v", ErrProtocol, i, err)
		}
		for _, x := range vec {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return nil, fmt.Errorf("%w: face %d embedding has non-finite values", ErrProtocol, i)
			}
		}

		dets = append(dets, types.RawDetection{
			BBox: types.BBox{
				X1: float64(head.Box[0]), Y1: float64(head.Box[1]),
				X2: float64(head.Box[2]), Y2: float64(head.Box[3]),
			},
			Confidence: float64(head.Confidence),
			Pose: types.Pose{
				Yaw: float64(head.Pose[0]), Pitch: float64(head.Pose[1]), Roll: float64(head.Pose[2]),
			},
			Embedding: vec,
		})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrProtocol, r.Len())
	}
	return dets, nil
}

// Close shuts the pipes and reaps the process. Closing stdin is the
// worker's signal to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Kill stops a hung worker without waiting for it to read stdin.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Close()
}
