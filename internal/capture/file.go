package capture

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andresmejia3/facenote/internal/types"
	"github.com/andresmejia3/facenote/internal/utils"
	"go.uber.org/multierr"
)

// FilePrefix marks device ids served by a FileSource.
const FilePrefix = "file:"

// FileSource plays video files through ffmpeg as if they were cameras.
type FileSource struct {
	paths []string
	fps   int
}

func NewFileSource(fps int, paths ...string) *FileSource {
	return &FileSource{paths: paths, fps: fps}
}

func (s *FileSource) Devices(ctx context.Context) ([]types.Device, error) {
	out := make([]types.Device, 0, len(s.paths))
	for _, p := range s.paths {
		out = append(out, types.Device{ID: FilePrefix + p, Label: filepath.Base(p)})
	}
	return out, nil
}

func (s *FileSource) Acquire(ctx context.Context, deviceID string, width, height int) (Stream, error) {
	path, ok := strings.CutPrefix(deviceID, FilePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	cmd := utils.NewFFmpegCmd(path, width, height, s.fps)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	scanner.Split(utils.SplitJpeg)
	return &fileStream{cmd: cmd, scanner: scanner}, nil
}

type fileStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

func (f *fileStream) Read() (image.Image, func(), error) {
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, io.EOF
	}
	img, err := utils.DecodeJPEG(f.scanner.Bytes())
	if err != nil {
		return nil, nil, err
	}
	return img, func() {}, nil
}

func (f *fileStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.cmd.Process != nil {
		err = f.cmd.Process.Kill()
	}
	// After a successful Kill, Wait always fails with the signal. Its error
	// only says something new when Kill itself failed.
	if werr := f.cmd.Wait(); werr != nil && err != nil {
		err = multierr.Append(err, werr)
	}
	return err
}

// Sources routes acquisition by device id: ids with FilePrefix go to Files,
// everything else to Camera.
type Sources struct {
	Camera Source
	Files  Source
}

func (s Sources) Devices(ctx context.Context) ([]types.Device, error) {
	var (
		out []types.Device
		err error
	)
	for _, src := range []Source{s.Camera, s.Files} {
		if src == nil {
			continue
		}
		devs, derr := src.Devices(ctx)
		err = multierr.Append(err, derr)
		out = append(out, devs...)
	}
	return out, err
}

func (s Sources) Acquire(ctx context.Context, deviceID string, width, height int) (Stream, error) {
	src := s.Camera
	if strings.HasPrefix(deviceID, FilePrefix) {
		src = s.Files
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return src.Acquire(ctx, deviceID, width, height)
}
