package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

type fakeFace struct {
	box  [4]int32
	conf float32
	pose [3]float32
	vec  []float32
}

func okPayload(faces ...fakeFace) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(faces)))
	for _, f := range faces {
		binary.Write(payload, binary.BigEndian, f.box)
		binary.Write(payload, binary.BigEndian, f.conf)
		binary.Write(payload, binary.BigEndian, f.pose)
		binary.Write(payload, binary.BigEndian, uint32(len(f.vec)))
		binary.Write(payload, binary.BigEndian, f.vec)
	}
	return payload.Bytes()
}

func errPayload(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return payload.Bytes()
}

func framed(payload []byte) *MockCloser {
	m := &MockCloser{Buffer: new(bytes.Buffer)}
	binary.Write(m, binary.BigEndian, uint32(len(payload)))
	m.Write(payload)
	return m
}

func TestProcessFrame(t *testing.T) {
	// stdinMock simulates the pipe TO Python (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}

	vec := make([]float32, 512)
	vec[0] = 0.5
	dataPipeMock := framed(okPayload(
		fakeFace{box: [4]int32{10, 10, 20, 20}, conf: 0.99, pose: [3]float32{-12.5, 3, 1}, vec: vec},
		fakeFace{box: [4]int32{0, 0, 5, 5}, conf: 0.4, vec: []float32{1, 2, 3}},
	))

	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	dets, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: 4 bytes header + data
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("wrong length header % x", sentData[:4])
	}

	if len(dets) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(dets))
	}
	d := dets[0]
	if len(d.Embedding) != 512 || d.Embedding[0] != 0.5 {
		t.Errorf("embedding not decoded, got dim %d first %v", len(d.Embedding), d.Embedding[0])
	}
	if d.BBox.Area() != 100 {
		t.Errorf("expected bbox area 100, got %v", d.BBox.Area())
	}
	if math.Abs(d.Confidence-0.99) > 1e-6 || d.Pose.Yaw != -12.5 {
		t.Errorf("unexpected confidence/pose %v %+v", d.Confidence, d.Pose)
	}
	if len(dets[1].Embedding) != 3 {
		t.Errorf("second face should have dim 3, got %d", len(dets[1].Embedding))
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: framed(okPayload())}
	dets, err := w.ProcessFrame([]byte("frame"))
	if err != nil || len(dets) != 0 {
		t.Errorf("expected no faces and no error, got %d, %v", len(dets), err)
	}
}

func TestProcessFrame_Error(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w := &PythonWorker{
		ID:       1,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: framed(errPayload(errMsg)),
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	var we *WorkerError
	if !errors.As(err, &we) {
		t.Errorf("expected *WorkerError, got %T", err)
	}
}

func TestProcessFrame_ProtocolViolations(t *testing.T) {
	good := okPayload(fakeFace{vec: []float32{1, 2}})

	tests := map[string][]byte{
		"empty":          {},
		"unknown status": {7},
		"truncated face": good[:len(good)-3],
		"trailing bytes": append(append([]byte{}, good...), 0xFF),
		"zero dim":       okPayload(fakeFace{vec: nil}),
		"nan embedding":  okPayload(fakeFace{vec: []float32{float32(math.NaN())}}),
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: framed(payload)}
			if _, err := w.ProcessFrame([]byte("x")); !errors.Is(err, ErrProtocol) {
				t.Errorf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestProcessFrame_CrashedWorker(t *testing.T) {
	// Worker died before answering: the data pipe is at EOF.
	w := &PythonWorker{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	if _, err := w.ProcessFrame([]byte("x")); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// pipeWorker is an in-memory worker served by a goroutine. reply decides
// the response for each request; returning nil hangs the worker.
func pipeWorker(id int, reply func(req []byte) []byte) *PythonWorker {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		defer respW.Close()
		for {
			var n uint32
			if err := binary.Read(reqR, binary.BigEndian, &n); err != nil {
				return
			}
			req := make([]byte, n)
			if _, err := io.ReadFull(reqR, req); err != nil {
				return
			}
			resp := reply(req)
			if resp == nil {
				// Hang until killed.
				io.Copy(io.Discard, reqR)
				return
			}
			binary.Write(respW, binary.BigEndian, uint32(len(resp)))
			respW.Write(resp)
		}
	}()
	return &PythonWorker{ID: id, Stdin: reqW, DataPipe: respR}
}

func TestPool_Detect(t *testing.T) {
	var spawned atomic.Int32
	spawn := func(_ context.Context, id int) (*PythonWorker, error) {
		spawned.Add(1)
		return pipeWorker(id, func(req []byte) []byte {
			switch string(req) {
			case "hang":
				return nil
			case "bad":
				return errPayload("cannot decode image")
			}
			return okPayload(fakeFace{conf: 0.9, vec: []float32{float32(len(req))}})
		}), nil
	}

	p, err := NewPoolWithSpawn(context.Background(), spawn, 2, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	dets, err := p.Detect(context.Background(), []byte("abc"))
	if err != nil || len(dets) != 1 || dets[0].Embedding[0] != 3 {
		t.Fatalf("unexpected result %+v, %v", dets, err)
	}

	// Logic errors keep the worker.
	if _, err := p.Detect(context.Background(), []byte("bad")); err == nil {
		t.Fatal("expected worker error")
	}
	if spawned.Load() != 2 {
		t.Errorf("logic error should not respawn, spawned %d", spawned.Load())
	}

	// A hung worker is replaced after the timeout.
	if _, err := p.Detect(context.Background(), []byte("hang")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if spawned.Load() != 3 {
		t.Errorf("expected a replacement worker, spawned %d", spawned.Load())
	}

	// The pool still serves requests afterwards.
	for range 4 {
		if _, err := p.Detect(context.Background(), []byte("ok")); err != nil {
			t.Fatalf("pool unusable after replacement: %v", err)
		}
	}
}

func TestPool_Closed(t *testing.T) {
	spawn := func(_ context.Context, id int) (*PythonWorker, error) {
		return pipeWorker(id, func([]byte) []byte { return okPayload() }), nil
	}
	p, err := NewPoolWithSpawn(context.Background(), spawn, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	p.Close()
	p.Close()
	if _, err := p.Detect(context.Background(), []byte("x")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_SpawnFailure(t *testing.T) {
	spawn := func(context.Context, int) (*PythonWorker, error) {
		return nil, errors.New("python3: not found")
	}
	if _, err := NewPoolWithSpawn(context.Background(), spawn, 2, time.Second); err == nil {
		t.Fatal("expected startup error")
	}
}
