package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facenote/internal/capture"
	"github.com/andresmejia3/facenote/internal/types"
	"github.com/andresmejia3/facenote/internal/utils"
	"github.com/andresmejia3/facenote/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// stallTimeout ends a bench whose stream stopped producing frames.
const stallTimeout = 3 * time.Second

var benchFrames int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive a device through the detector and report drop rate and latency",
	Run: func(cmd *cobra.Command, args []string) {
		runBench(cmd.Context())
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchFrames, "frames", "n", 300, "Frames to sample (0 with a file device means the whole video)")
	benchCmd.Flags().StringSliceVarP(&videoFiles, "file", "f", nil, "Video file offered as an extra device (repeatable)")
	rootCmd.AddCommand(benchCmd)
}

func runBench(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	src := newSource()
	device := Cfg.Device
	if device == "" {
		devices, err := src.Devices(ctx)
		if err != nil || len(devices) == 0 {
			utils.Die("No device to benchmark", err, nil)
		}
		device = devices[0].ID
	}

	total := benchFrames
	if path, ok := strings.CutPrefix(device, capture.FilePrefix); ok && total <= 0 {
		total = utils.GetTotalFrames(path)
	}
	if total <= 0 {
		total = -1
	}

	mesh := startDetector()
	defer mesh.Close()

	var faces atomic.Uint64
	ctrl := capture.NewController(src, crashGuard{mesh: mesh, cancel: cancel}, capture.Options{
		Width:  Cfg.FrameWidth,
		Height: Cfg.FrameHeight,
		FPS:    Cfg.FPS,
		OnResult: func(_ types.Frame, det types.Detection) {
			if !det.NoFace && len(det.Landmarks) > 0 {
				faces.Add(1)
			}
		},
		Log: logrus.NewEntry(Logger),
	})
	if err := ctrl.Select(ctx, device); err != nil {
		utils.Die("Could not open device", err, nil)
	}
	fmt.Fprintf(os.Stderr, "⏱️  Benchmarking %s at %d fps\n", device, Cfg.FPS)

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🧠 Face Mesh"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var (
		last     uint64
		lastMove = time.Now()
	)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		s := ctrl.Stats()
		if s.Sampled != last {
			bar.Add(int(s.Sampled - last))
			last = s.Sampled
			lastMove = time.Now()
		}
		if total > 0 && int(s.Sampled) >= total {
			break
		}
		if time.Since(lastMove) > stallTimeout {
			fmt.Fprintln(os.Stderr, "\n⚠️  Stream stopped producing frames")
			break
		}
	}

	if err := ctrl.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "\n⚠️  Device release reported: %v\n", err)
	}
	bar.Finish()

	if cause := context.Cause(ctx); errors.Is(cause, worker.ErrWorker) {
		mesh.Close()
		utils.Die("Python crashed", cause, mesh.Cmd)
	}

	s := ctrl.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Bench Complete.\n")
	fmt.Fprintf(os.Stderr, "   sampled   %d\n", s.Sampled)
	fmt.Fprintf(os.Stderr, "   dropped   %d (%.1f%%)\n", s.Dropped, 100*s.DropRate())
	fmt.Fprintf(os.Stderr, "   detected  %d (%d with a face)\n", s.Detected, faces.Load())
	fmt.Fprintf(os.Stderr, "   failed    %d\n", s.Failed)
	fmt.Fprintf(os.Stderr, "   latency   %s avg\n", s.AvgDetect().Round(time.Millisecond/10))
}
