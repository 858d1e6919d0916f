package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facenote/internal/types"
	"github.com/sirupsen/logrus"
)

// Options configure a Controller.
type Options struct {
	Width  int
	Height int
	FPS    int
	// MaxReadErrors consecutive failed reads end the stream. Zero means 30.
	MaxReadErrors int

	// OnResult receives every detector result for the current stream, in
	// the order the detector finished. It must not block.
	OnResult func(frame types.Frame, det types.Detection)
	// OnState receives every state transition. It must not block.
	OnState func(Transition)

	Log *logrus.Entry
}

// Stats are cumulative counters for the lifetime of a Controller.
type Stats struct {
	Sampled    uint64        `json:"sampled"`
	Dropped    uint64        `json:"dropped"`
	Detected   uint64        `json:"detected"`
	Failed     uint64        `json:"failed"`
	ReadErrors uint64        `json:"read_errors"`
	DetectTime time.Duration `json:"detect_time_ns"`
}

// AvgDetect is the mean detector latency over successful detections.
func (s Stats) AvgDetect() time.Duration {
	if s.Detected == 0 {
		return 0
	}
	return s.DetectTime / time.Duration(s.Detected)
}

// DropRate is the fraction of sampled frames that never reached the detector.
func (s Stats) DropRate() float64 {
	if s.Sampled == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Sampled)
}

type counters struct {
	sampled    atomic.Uint64
	dropped    atomic.Uint64
	detected   atomic.Uint64
	failed     atomic.Uint64
	readErrors atomic.Uint64
	detectNs   atomic.Int64
}

// run is one acquired stream and its sampling goroutine.
type run struct {
	gen    uint64
	stream Stream
	cancel context.CancelFunc
	done   chan struct{}
	busy   atomic.Bool
}

// Controller drives the Idle -> Acquiring -> Streaming -> Stopped lifecycle.
// At most one stream is held at a time and at most one detector call is in
// flight per stream.
type Controller struct {
	src  Source
	det  Detector
	opts Options
	log  *logrus.Entry

	// lifecycle serializes Select, Stop and Close.
	lifecycle sync.Mutex
	// transition orders state changes with their notifications. It is
	// taken before mu, never after.
	transition sync.Mutex

	mu     sync.RWMutex
	state  State
	device string
	cur    *run
	closed bool

	// gen guards delivery: results are only delivered while their
	// generation is still current.
	genMu sync.RWMutex
	gen   uint64

	seq atomic.Uint64

	detectCtx    context.Context
	detectCancel context.CancelFunc
	inflight     sync.WaitGroup

	stats counters
}

// NewController returns an Idle controller.
func NewController(src Source, det Detector, opts Options) *Controller {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.MaxReadErrors <= 0 {
		opts.MaxReadErrors = 30
	}
	if opts.OnResult == nil {
		opts.OnResult = func(types.Frame, types.Detection) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(Transition) {}
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		src:          src,
		det:          det,
		opts:         opts,
		log:          log.WithField("component", "capture"),
		detectCtx:    ctx,
		detectCancel: cancel,
	}
}

// Devices re-enumerates video inputs.
func (c *Controller) Devices(ctx context.Context) ([]types.Device, error) {
	return c.src.Devices(ctx)
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Device is the id of the current (or last attempted) device.
func (c *Controller) Device() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

func (c *Controller) Stats() Stats {
	return Stats{
		Sampled:    c.stats.sampled.Load(),
		Dropped:    c.stats.dropped.Load(),
		Detected:   c.stats.detected.Load(),
		Failed:     c.stats.failed.Load(),
		ReadErrors: c.stats.readErrors.Load(),
		DetectTime: time.Duration(c.stats.detectNs.Load()),
	}
}

func (c *Controller) setState(to State, device string, err error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	from := c.state
	c.state = to
	c.device = device
	c.mu.Unlock()
	c.notify(from, to, device, err)
}

func (c *Controller) notify(from, to State, device string, err error) {
	entry := c.log.WithFields(logrus.Fields{"from": from, "state": to, "device_id": device})
	if err != nil {
		entry.WithError(err).Warn("capture state changed")
	} else {
		entry.Debug("capture state changed")
	}
	c.opts.OnState(Transition{From: from, To: to, Device: device, Err: err})
}

// Select acquires deviceID, stopping the current stream first. On failure
// the controller returns to Idle and the error wraps ErrAcquire.
func (c *Controller) Select(ctx context.Context, deviceID string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if err := c.stopLocked(); err != nil {
		c.log.WithError(err).WithField("device_id", c.Device()).Warn("previous stream released with errors")
	}

	c.setState(Acquiring, deviceID, nil)
	stream, err := c.src.Acquire(ctx, deviceID, c.opts.Width, c.opts.Height)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrAcquire, deviceID, err)
		c.setState(Idle, deviceID, err)
		return err
	}

	c.genMu.Lock()
	c.gen++
	r := &run{gen: c.gen, stream: stream, done: make(chan struct{})}
	c.genMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	c.mu.Lock()
	c.cur = r
	c.mu.Unlock()

	c.setState(Streaming, deviceID, nil)
	go c.sampleLoop(loopCtx, r)
	return nil
}

// Stop releases the current stream. It is a no-op unless Streaming.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	c.mu.Lock()
	r := c.cur
	c.cur = nil
	device := c.device
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	// Invalidate the generation before anything else so a detection that
	// finishes during teardown is discarded.
	c.genMu.Lock()
	c.gen++
	c.genMu.Unlock()

	r.cancel()
	err := r.stream.Close()
	<-r.done
	c.setState(Stopped, device, nil)
	return err
}

// Close stops the stream, cancels any in-flight detection and waits for it.
func (c *Controller) Close() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.stopLocked()
	c.detectCancel()
	c.inflight.Wait()
	return err
}

func (c *Controller) sampleLoop(ctx context.Context, r *run) {
	defer close(r.done)

	ticker := time.NewTicker(time.Second / time.Duration(c.opts.FPS))
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := c.sampleOnce(ctx, r)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
			c.endRun(r, nil)
			return
		default:
			failures++
			if failures >= c.opts.MaxReadErrors {
				c.endRun(r, fmt.Errorf("stream lost after %d failed reads: %w", failures, err))
				return
			}
		}
	}
}

// endRun releases a stream that ended on its own. A stream that simply ran
// out moves to Stopped; one that kept failing moves to Idle with cause. It is
// a no-op when Stop or Select already took the run.
func (c *Controller) endRun(r *run, cause error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.cur != r {
		c.mu.Unlock()
		return
	}
	c.cur = nil

	c.genMu.Lock()
	c.gen++
	c.genMu.Unlock()

	if err := r.stream.Close(); err != nil {
		c.log.WithError(err).WithField("device_id", c.device).Warn("stream released with errors")
	}
	to := Stopped
	if cause != nil {
		to = Idle
	}
	from, device := c.state, c.device
	c.state = to
	c.mu.Unlock()

	if cause == nil {
		c.log.WithField("device_id", device).Info("stream ended")
	}
	c.notify(from, to, device, cause)
}

// sampleOnce reads one frame and hands it to the detector unless a call is
// already in flight, in which case the frame is dropped.
func (c *Controller) sampleOnce(ctx context.Context, r *run) error {
	img, release, err := r.stream.Read()
	if ctx.Err() != nil {
		if release != nil {
			release()
		}
		return ErrClosed
	}
	if err != nil {
		c.stats.readErrors.Add(1)
		c.log.WithError(err).Debug("frame read failed")
		return err
	}
	c.stats.sampled.Add(1)

	if !r.busy.CompareAndSwap(false, true) {
		release()
		c.stats.dropped.Add(1)
		return nil
	}

	frame := types.Frame{Seq: c.seq.Add(1), Image: cloneImage(img), At: time.Now()}
	release()

	c.inflight.Add(1)
	go c.detect(r, frame)
	return nil
}

func (c *Controller) detect(r *run, frame types.Frame) {
	defer c.inflight.Done()
	defer r.busy.Store(false)

	start := time.Now()
	det, err := c.det.Detect(c.detectCtx, frame.Image)
	if err != nil {
		c.stats.failed.Add(1)
		if c.detectCtx.Err() == nil {
			c.log.WithError(err).WithField("seq", frame.Seq).Warn("detection failed")
		}
		return
	}
	c.stats.detected.Add(1)
	c.stats.detectNs.Add(int64(time.Since(start)))

	c.genMu.RLock()
	defer c.genMu.RUnlock()
	if c.gen != r.gen {
		return
	}
	c.opts.OnResult(frame, det)
}
