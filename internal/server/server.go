// Package server is the browser boundary: a fiber app serving the page, a
// small JSON API for devices and annotations, and one websocket per render
// layer.
package server

import (
	"context"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facenote/internal/capture"
	"github.com/andresmejia3/facenote/internal/session"
	"github.com/andresmejia3/facenote/internal/types"
	"github.com/andresmejia3/facenote/pkg/log"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

//go:embed web/index.html
var indexHTML string

// Session is what the server needs from the running session.
type Session interface {
	ID() string
	Devices(ctx context.Context) ([]types.Device, error)
	SelectDevice(ctx context.Context, id string) error
	Resolve(ctx context.Context, x, y float64) (session.Pick, error)
	AddAnnotation(ctx context.Context, landmarkIndex int, note string) (types.Annotation, error)
	Annotations() []types.Annotation
	Status() session.Status
	BaseLayer() *session.Layer
	OverlayLayer() *session.Layer
}

type Options struct {
	Width  int
	Height int
	Log    *logrus.Logger
}

type Server struct {
	app      *fiber.App
	sess     Session
	validate *validator.Validate
	log      *logrus.Entry
	width    int
	height   int
	page     string
}

type selectRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

type resolveRequest struct {
	X *float64 `json:"x" validate:"required,gte=0"`
	Y *float64 `json:"y" validate:"required,gte=0"`
}

// annotateRequest carries the index returned by /api/resolve, so the note
// lands on the landmark that was under the click when it happened.
type annotateRequest struct {
	LandmarkIndex *int   `json:"landmark_index" validate:"required,gte=0"`
	Note          string `json:"note"`
}

type devicesResponse struct {
	Devices    []types.Device `json:"devices"`
	Selected   string         `json:"selected"`
	Switchable bool           `json:"switchable"`
}

func New(sess Session, opts Options) *Server {
	logger := opts.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		sess:     sess,
		validate: validator.New(),
		log:      logger.WithFields(logrus.Fields{"component": "server", "session_id": sess.ID()}),
		width:    opts.Width,
		height:   opts.Height,
	}
	s.page = strings.NewReplacer(
		"{{WIDTH}}", strconv.Itoa(opts.Width),
		"{{HEIGHT}}", strconv.Itoa(opts.Height),
	).Replace(indexHTML)

	s.app = fiber.New(fiber.Config{
		AppName:               "facenote",
		DisableStartupMessage: true,
		StrictRouting:         true,
		CaseSensitive:         true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
		ErrorHandler:          s.errorHandler,
	})
	s.routes()
	return s
}

// App exposes the fiber app, mostly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("ui server listening")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(requestLogger)

	s.app.Get("/", s.index)

	api := s.app.Group("/api")
	api.Get("/devices", s.listDevices)
	api.Post("/devices/select", s.selectDevice)
	api.Get("/session", s.status)
	api.Post("/resolve", s.resolve)
	api.Get("/annotations", s.listAnnotations)
	api.Post("/annotations", s.addAnnotation)
	api.Get("/layers/:layer", s.latestLayer)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/:layer", s.checkLayer, websocket.New(s.stream))
}

func (s *Server) index(c *fiber.Ctx) error {
	c.Type("html", "utf-8")
	return c.SendString(s.page)
}

func (s *Server) listDevices(c *fiber.Ctx) error {
	devs, err := s.sess.Devices(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if devs == nil {
		devs = []types.Device{}
	}
	return c.JSON(devicesResponse{
		Devices:    devs,
		Selected:   s.sess.Status().Device,
		Switchable: len(devs) > 1,
	})
}

func (s *Server) selectDevice(c *fiber.Ctx) error {
	var req selectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.sess.SelectDevice(c.UserContext(), req.DeviceID); err != nil {
		return sessionError(err)
	}
	return c.JSON(s.sess.Status())
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.sess.Status())
}

func (s *Server) listAnnotations(c *fiber.Ctx) error {
	return c.JSON(s.sess.Annotations())
}

func (s *Server) resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if *req.X > float64(s.width) || *req.Y > float64(s.height) {
		return fiber.NewError(fiber.StatusBadRequest, "click outside the view")
	}
	pick, err := s.sess.Resolve(c.UserContext(), *req.X, *req.Y)
	if err != nil {
		return sessionError(err)
	}
	return c.JSON(pick)
}

func (s *Server) addAnnotation(c *fiber.Ctx) error {
	var req annotateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	ann, err := s.sess.AddAnnotation(c.UserContext(), *req.LandmarkIndex, req.Note)
	if errors.Is(err, session.ErrEmptyNote) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err != nil {
		return sessionError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(ann)
}

func (s *Server) layer(name string) *session.Layer {
	switch name {
	case "base":
		return s.sess.BaseLayer()
	case "overlay":
		return s.sess.OverlayLayer()
	default:
		return nil
	}
}

func (s *Server) latestLayer(c *fiber.Ctx) error {
	l := s.layer(c.Params("layer"))
	if l == nil {
		return fiber.ErrNotFound
	}
	enc, ok := l.Latest()
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	c.Set(fiber.HeaderContentType, l.MIMEType())
	c.Set("X-Layer-Seq", strconv.FormatUint(enc.Seq, 10))
	return c.Send(enc.Data)
}

func (s *Server) checkLayer(c *fiber.Ctx) error {
	if s.layer(c.Params("layer")) == nil {
		return fiber.ErrNotFound
	}
	return c.Next()
}

// stream pushes every rendering of one layer to the viewer. A viewer that
// falls behind only ever receives the newest rendering.
func (s *Server) stream(conn *websocket.Conn) {
	name := conn.Params("layer")
	sub := s.layer(name).Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The browser never sends anything; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	entry := s.log.WithFields(logrus.Fields{"layer": name, "remote": conn.RemoteAddr().String()})
	entry.Debug("viewer connected")
	for {
		enc, err := sub.Next(ctx)
		if err != nil {
			break
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, enc.Data); err != nil {
			entry.WithError(err).Debug("viewer write failed")
			break
		}
	}
	entry.WithField("drops", sub.Drops()).Debug("viewer disconnected")
}

func (s *Server) bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid field "+verrs[0].Field())
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNoFace):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, session.ErrLandmark):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, capture.ErrAcquire):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, session.ErrClosed), errors.Is(err, capture.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		code = ferr.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			status = ferr.Code
		}
	}

	fields := log.Fields{
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	switch {
	case status >= 500:
		log.Error(fields, "server error")
	case status >= 400:
		log.Warn(fields, "client error")
	default:
		log.Debug(fields, "request")
	}
	return err
}
