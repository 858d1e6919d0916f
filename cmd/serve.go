package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/facenote/internal/server"
	"github.com/andresmejia3/facenote/internal/session"
	"github.com/andresmejia3/facenote/internal/surface"
	"github.com/andresmejia3/facenote/internal/utils"
	"github.com/andresmejia3/facenote/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture the camera, run the face mesh and serve the annotation UI",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringSliceVarP(&videoFiles, "file", "f", nil, "Video file offered as an extra device (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	mesh := startDetector()
	defer mesh.Close()

	sess := session.New(newSource(), crashGuard{mesh: mesh, cancel: cancel},
		surface.NewBase(Cfg.FrameWidth, Cfg.FrameHeight),
		surface.NewOverlay(Cfg.FrameWidth, Cfg.FrameHeight),
		session.Options{
			Width:  Cfg.FrameWidth,
			Height: Cfg.FrameHeight,
			FPS:    Cfg.FPS,
			Device: Cfg.Device,
			Log:    logrus.NewEntry(Logger),
		})
	srv := server.New(sess, server.Options{Width: Cfg.FrameWidth, Height: Cfg.FrameHeight, Log: Logger})

	fmt.Fprintf(os.Stderr, "🎥 Session %s\n", sess.ID()[:8])
	fmt.Fprintf(os.Stderr, "🌐 Open http://%s in a browser\n", displayAddr(Cfg.Addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(gctx) })
	g.Go(func() error { return srv.Listen(Cfg.Addr) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, worker.ErrWorker) {
		mesh.Close()
		utils.Die("Python crashed", cause, mesh.Cmd)
	}
	if err != nil {
		utils.Die("Server failed", err, nil)
	}
	fmt.Fprintln(os.Stderr, "\n👋 Session closed.")
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
