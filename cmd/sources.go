package cmd

import (
	"context"
	"errors"
	"image"

	"github.com/andresmejia3/facenote/internal/capture"
	"github.com/andresmejia3/facenote/internal/types"
	"github.com/andresmejia3/facenote/internal/utils"
	"github.com/andresmejia3/facenote/internal/worker"
)

// videoFiles are extra file:<path> devices offered next to the cameras.
var videoFiles []string

func newSource() capture.Sources {
	return capture.Sources{
		Camera: capture.NewMediaSource(),
		Files:  capture.NewFileSource(Cfg.FPS, videoFiles...),
	}
}

func startDetector() *worker.FaceMesh {
	mesh, err := worker.NewFaceMesh(worker.Options{Python: Cfg.Python, Script: Cfg.WorkerScript})
	if err != nil {
		utils.Die("Detector startup failed", err, nil)
	}
	return mesh
}

// crashGuard cancels the run with the worker's error as soon as the Python
// process dies, so the caller can report its logs instead of limping on.
type crashGuard struct {
	mesh   *worker.FaceMesh
	cancel context.CancelCauseFunc
}

func (g crashGuard) Detect(ctx context.Context, img image.Image) (types.Detection, error) {
	det, err := g.mesh.Detect(ctx, img)
	if err != nil && ctx.Err() == nil && g.mesh.Broken() {
		g.cancel(errors.Join(worker.ErrWorker, err))
	}
	return det, err
}
