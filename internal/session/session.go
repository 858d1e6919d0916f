// Package session runs the single event loop that owns the landmark store,
// the annotation ledger and the capture controller. Detection results,
// clicks and device switches are all applied on that one goroutine, and
// every change re-runs the render passes it affects.
package session

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/andresmejia3/facenote/internal/capture"
	"github.com/andresmejia3/facenote/internal/landmark"
	"github.com/andresmejia3/facenote/internal/ledger"
	"github.com/andresmejia3/facenote/internal/render"
	"github.com/andresmejia3/facenote/internal/surface"
	"github.com/andresmejia3/facenote/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

var (
	ErrNoFace    = errors.New("no face in the current frame")
	ErrEmptyNote = errors.New("empty note")
	ErrClosed    = errors.New("session closed")
	ErrLandmark  = errors.New("invalid landmark index")
)

// Pick is a click resolved against the snapshot that was current when the
// click happened.
type Pick struct {
	LandmarkIndex int    `json:"landmark_index"`
	Seq           uint64 `json:"seq"`
}

type Options struct {
	Width  int
	Height int
	FPS    int
	// Device is acquired on start. Empty picks the first enumerated input.
	Device string
	Log    *logrus.Entry
}

// Status is a point-in-time view of the session for the UI.
type Status struct {
	ID          string        `json:"id"`
	State       capture.State `json:"state"`
	Device      string        `json:"device"`
	Error       string        `json:"error,omitempty"`
	Face        bool          `json:"face"`
	Seq         uint64        `json:"seq"`
	Landmarks   int           `json:"landmarks"`
	Annotations int           `json:"annotations"`
	Stats       capture.Stats `json:"stats"`
	ResultDrops uint64        `json:"result_drops"`
}

type result struct {
	frame types.Frame
	det   types.Detection
}

type Session struct {
	id   string
	opts Options
	log  *logrus.Entry

	store  *landmark.Store
	ledger *ledger.Ledger
	ctrl   *capture.Controller

	baseSurface    surface.Surface
	overlaySurface surface.Surface
	base           *Layer
	overlay        *Layer

	results  *mailbox[result]
	requests chan func()
	started  chan struct{}
	done     chan struct{}

	// Owned by the loop goroutine.
	frame image.Image

	mu      sync.RWMutex
	lastErr error
}

// New wires a session around src and det. The session takes ownership of
// both surfaces and closes them when Run returns.
func New(src capture.Source, det capture.Detector, base, overlay surface.Surface, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	id := uuid.NewString()
	s := &Session{
		id:             id,
		opts:           opts,
		log:            log.WithField("session_id", id),
		store:          landmark.NewStore(),
		ledger:         ledger.New(),
		baseSurface:    base,
		overlaySurface: overlay,
		base:           NewLayer("base", base.MIMEType()),
		overlay:        NewLayer("overlay", overlay.MIMEType()),
		results:        newMailbox[result](),
		requests:       make(chan func()),
		started:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	s.ctrl = capture.NewController(src, det, capture.Options{
		Width:    opts.Width,
		Height:   opts.Height,
		FPS:      opts.FPS,
		OnResult: s.onResult,
		OnState:  s.onState,
		Log:      s.log,
	})
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) BaseLayer() *Layer    { return s.base }
func (s *Session) OverlayLayer() *Layer { return s.overlay }

// onResult runs on detector goroutines and only hands off to the loop.
func (s *Session) onResult(frame types.Frame, det types.Detection) {
	s.results.put(result{frame: frame, det: det})
}

func (s *Session) onState(t capture.Transition) {
	s.mu.Lock()
	switch {
	case t.Err != nil:
		s.lastErr = t.Err
	case t.To == capture.Acquiring:
		s.lastErr = nil
	}
	s.mu.Unlock()
}

// Run owns the event loop until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	close(s.started)

	s.renderBase()
	s.renderOverlay()
	s.start(ctx)

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-s.results.ready():
			if r, ok := s.results.take(); ok {
				s.apply(r)
			}
		case fn := <-s.requests:
			fn()
		}
	}
}

func (s *Session) start(ctx context.Context) {
	device := s.opts.Device
	if device == "" {
		devs, err := s.ctrl.Devices(ctx)
		if err != nil {
			s.log.WithError(err).Warn("device enumeration failed")
		}
		if len(devs) == 0 {
			s.log.Warn("no video inputs found; waiting for a device selection")
			return
		}
		device = devs[0].ID
	}
	if err := s.ctrl.Select(ctx, device); err != nil {
		s.log.WithError(err).WithField("device_id", device).Error("could not start capture")
	}
}

func (s *Session) shutdown() error {
	err := s.ctrl.Close()
	s.base.Close()
	s.overlay.Close()
	err = multierr.Append(err, s.baseSurface.Close())
	err = multierr.Append(err, s.overlaySurface.Close())
	s.log.Info("session closed")
	return err
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	select {
	case <-s.started:
	case <-ctx.Done():
		return ctx.Err()
	}
	finished := make(chan struct{})
	select {
	case s.requests <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *Session) apply(r result) {
	if r.det.NoFace || len(r.det.Landmarks) == 0 {
		s.store.Clear(r.frame.Seq)
	} else {
		s.store.Update(types.Snapshot{Seq: r.frame.Seq, Face: true, Points: r.det.Landmarks})
	}
	s.frame = r.frame.Image
	s.renderBase()
	s.renderOverlay()
}

func (s *Session) renderBase() {
	cmds := render.Base(s.frame, s.store.Current(), s.opts.Width, s.opts.Height)
	s.draw(s.baseSurface, s.base, cmds)
}

func (s *Session) renderOverlay() {
	cmds := render.Overlay(s.ledger.All(), s.store.Current(), s.opts.Width, s.opts.Height)
	s.draw(s.overlaySurface, s.overlay, cmds)
}

func (s *Session) draw(surf surface.Surface, layer *Layer, cmds []render.Command) {
	if err := surf.Draw(cmds); err != nil {
		s.log.WithError(err).WithField("layer", layer.Name()).Error("render failed")
		return
	}
	data, err := surf.Encode()
	if err != nil {
		s.log.WithError(err).WithField("layer", layer.Name()).Error("encode failed")
		return
	}
	layer.Publish(data)
}

// Resolve binds a click at surface pixel (x, y) to the nearest landmark of
// the current snapshot. The note is asked for afterwards, so the index is
// fixed here and later frames cannot move it.
func (s *Session) Resolve(ctx context.Context, x, y float64) (Pick, error) {
	var (
		pick Pick
		err  error
	)
	if derr := s.do(ctx, func() { pick, err = s.resolve(x, y) }); derr != nil {
		return Pick{}, derr
	}
	return pick, err
}

// AddAnnotation records note against a landmark index returned by Resolve.
// It does not look at the current snapshot.
func (s *Session) AddAnnotation(ctx context.Context, landmarkIndex int, note string) (types.Annotation, error) {
	var (
		ann types.Annotation
		err error
	)
	if derr := s.do(ctx, func() { ann, err = s.add(landmarkIndex, note) }); derr != nil {
		return types.Annotation{}, derr
	}
	return ann, err
}

// Annotate resolves and records in one loop turn, for callers that already
// have the note at click time.
func (s *Session) Annotate(ctx context.Context, x, y float64, note string) (types.Annotation, error) {
	var (
		ann types.Annotation
		err error
	)
	derr := s.do(ctx, func() {
		if strings.TrimSpace(note) == "" {
			err = ErrEmptyNote
			return
		}
		var pick Pick
		if pick, err = s.resolve(x, y); err == nil {
			ann, err = s.add(pick.LandmarkIndex, note)
		}
	})
	if derr != nil {
		return types.Annotation{}, derr
	}
	return ann, err
}

func (s *Session) resolve(x, y float64) (Pick, error) {
	snap := s.store.Current()
	idx, ok := landmark.Resolve(x, y, snap, s.opts.Width, s.opts.Height)
	if !ok {
		return Pick{}, ErrNoFace
	}
	return Pick{LandmarkIndex: idx, Seq: snap.Seq}, nil
}

func (s *Session) add(idx int, note string) (types.Annotation, error) {
	if strings.TrimSpace(note) == "" {
		return types.Annotation{}, ErrEmptyNote
	}
	if idx < 0 {
		return types.Annotation{}, ErrLandmark
	}
	if !s.ledger.Add(idx, note) {
		return types.Annotation{}, ErrEmptyNote
	}
	s.log.WithField("landmark", idx).Info("annotation added")
	s.renderOverlay()
	return types.Annotation{LandmarkIndex: idx, Note: note}, nil
}

// SelectDevice switches capture to id. The previous stream is released first.
func (s *Session) SelectDevice(ctx context.Context, id string) error {
	var err error
	if derr := s.do(ctx, func() { err = s.ctrl.Select(ctx, id) }); derr != nil {
		return derr
	}
	return err
}

// Devices re-enumerates video inputs.
func (s *Session) Devices(ctx context.Context) ([]types.Device, error) {
	return s.ctrl.Devices(ctx)
}

func (s *Session) Annotations() []types.Annotation {
	return s.ledger.All()
}

func (s *Session) Status() Status {
	snap := s.store.Current()
	st := Status{
		ID:          s.id,
		State:       s.ctrl.State(),
		Device:      s.ctrl.Device(),
		Face:        snap.Face,
		Seq:         snap.Seq,
		Landmarks:   snap.Len(),
		Annotations: s.ledger.Len(),
		Stats:       s.ctrl.Stats(),
		ResultDrops: s.results.drops.Load(),
	}
	s.mu.RLock()
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.mu.RUnlock()
	return st
}
