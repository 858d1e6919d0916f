// Package worker runs the face-landmark detector as a supervised Python
// MediaPipe Face Mesh process.
//
// Protocol (both directions): [uint32 big-endian length][payload].
// Request payload is a JPEG frame. Response payload starts with a status
// byte: 0 = OK followed by [uint32 count][count x (x, y, z float32)],
// 1 = error followed by [uint32 length][utf-8 message].
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/andresmejia3/facenote/internal/types"
	"github.com/andresmejia3/facenote/internal/utils"
)

// Detector options, fixed for the lifetime of the binary.
const (
	MaxFaces               = 1
	RefineLandmarks        = true
	MinDetectionConfidence = 0.5
	MinTrackingConfidence  = 0.5

	// MeshLandmarks is the point count with refined landmarks (468 + 10 iris).
	MeshLandmarks = 478

	frameQuality = 90
	statusOK     = 0
	statusError  = 1
)

// ErrWorker is returned once the Python process has crashed or was killed.
var ErrWorker = errors.New("face mesh worker unavailable")

// Options configures how the worker process is launched.
type Options struct {
	Python string
	Script string
}

// FaceMesh is a single Python detector process. Detect calls are serialized.
type FaceMesh struct {
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu     sync.Mutex
	broken bool
}

// Args returns the command line passed to the Python interpreter.
func (o Options) Args() []string {
	args := []string{"-u", o.Script,
		"--max-faces", strconv.Itoa(MaxFaces),
		"--min-detection-confidence", strconv.FormatFloat(MinDetectionConfidence, 'f', 2, 64),
		"--min-tracking-confidence", strconv.FormatFloat(MinTrackingConfidence, 'f', 2, 64),
	}
	if RefineLandmarks {
		args = append(args, "--refine-landmarks")
	}
	return args
}

// NewFaceMesh starts the Python worker.
func NewFaceMesh(opts Options) (*FaceMesh, error) {
	py := utils.NewSafeCommand(opts.Python, opts.Args()...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("face mesh worker failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &FaceMesh{
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Detect sends one frame to the worker and waits for its landmarks.
// If ctx is cancelled while the worker is busy the process is killed, since
// a half-read response would desynchronize the pipe.
func (f *FaceMesh) Detect(ctx context.Context, img image.Image) (types.Detection, error) {
	data, err := utils.EncodeJPEG(img, frameQuality)
	if err != nil {
		return types.Detection{}, err
	}
	return f.DetectJPEG(ctx, data)
}

// DetectJPEG is Detect for an already encoded frame.
func (f *FaceMesh) DetectJPEG(ctx context.Context, frame []byte) (types.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken {
		return types.Detection{}, ErrWorker
	}
	if err := ctx.Err(); err != nil {
		return types.Detection{}, err
	}

	type reply struct {
		det types.Detection
		err error
	}
	done := make(chan reply, 1)
	go func() {
		det, err := f.ProcessFrame(frame)
		done <- reply{det, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !isWorkerLogicError(r.err) {
			f.broken = true
		}
		return r.det, r.err
	case <-ctx.Done():
		f.broken = true
		f.kill()
		<-done
		return types.Detection{}, ctx.Err()
	}
}

// Broken reports whether the process has died and will refuse further frames.
func (f *FaceMesh) Broken() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}

// ProcessFrame performs one request/response round trip on the pipes.
func (f *FaceMesh) ProcessFrame(frame []byte) (types.Detection, error) {
	resp, err := f.Communicate(frame)
	if err != nil {
		return types.Detection{}, err
	}
	return ParseResponse(resp)
}

// Communicate writes one length-prefixed request and reads one length-prefixed response.
func (f *FaceMesh) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(f.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := f.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(f.DataPipe, header); err != nil {
		return nil, err // This is where we catch an interpreter crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(f.DataPipe, respBody)
	return respBody, err
}

// workerLogicError is a per-frame failure reported by Python; the process is still usable.
type workerLogicError struct{ msg string }

func (e *workerLogicError) Error() string { return "python worker error: " + e.msg }

func isWorkerLogicError(err error) bool {
	var le *workerLogicError
	return errors.As(err, &le)
}

// ParseResponse decodes a response payload.
func ParseResponse(payload []byte) (types.Detection, error) {
	r := bytes.NewReader(payload)
	status, err := r.ReadByte()
	if err != nil {
		return types.Detection{}, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return types.Detection{}, fmt.Errorf("truncated landmark count: %w", err)
		}
		if count == 0 {
			return types.Detection{NoFace: true}, nil
		}
		if uint64(r.Len()) < uint64(count)*12 {
			return types.Detection{}, fmt.Errorf("truncated landmarks: want %d points, have %d bytes", count, r.Len())
		}
		raw := make([]float32, count*3)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return types.Detection{}, fmt.Errorf("failed to read landmarks: %w", err)
		}
		points := make([]types.Point, count)
		for i := range points {
			points[i] = types.Point{X: float64(raw[i*3]), Y: float64(raw[i*3+1]), Z: float64(raw[i*3+2])}
		}
		return types.Detection{Landmarks: points}, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return types.Detection{}, fmt.Errorf("truncated error message: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return types.Detection{}, fmt.Errorf("truncated error message: %w", err)
		}
		return types.Detection{}, &workerLogicError{msg: string(msg)}

	default:
		return types.Detection{}, fmt.Errorf("unknown worker status %d", status)
	}
}

func (f *FaceMesh) kill() {
	if f.Cmd != nil && f.Cmd.Process != nil {
		f.Cmd.Process.Kill()
	}
	f.DataPipe.Close()
}

// Close shuts the worker down and waits for the process to exit.
func (f *FaceMesh) Close() error {
	f.Stdin.Close()
	f.DataPipe.Close()
	if f.Cmd == nil {
		return nil
	}
	return f.Cmd.Wait()
}
