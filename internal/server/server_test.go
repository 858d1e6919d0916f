package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/andresmejia3/facenote/internal/capture"
	"github.com/andresmejia3/facenote/internal/session"
	"github.com/andresmejia3/facenote/internal/types"
	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
)

type fakeSession struct {
	mu          sync.Mutex
	devices     []types.Device
	selected    string
	selectErr   error
	resolveErr  error
	annotateErr error
	calls       []string
	ledger      []types.Annotation
	base        *session.Layer
	overlay     *session.Layer
}

func newFakeSession(devices ...types.Device) *fakeSession {
	return &fakeSession{
		devices: devices,
		base:    session.NewLayer("base", "image/jpeg"),
		overlay: session.NewLayer("overlay", "image/png"),
	}
}

func (f *fakeSession) ID() string { return "test-session" }

func (f *fakeSession) Devices(ctx context.Context) ([]types.Device, error) {
	return f.devices, nil
}

func (f *fakeSession) SelectDevice(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "select:"+id)
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = id
	return nil
}

func (f *fakeSession) Resolve(ctx context.Context, x, y float64) (session.Pick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("resolve:%.0f,%.0f", x, y))
	if f.resolveErr != nil {
		return session.Pick{}, f.resolveErr
	}
	return session.Pick{LandmarkIndex: 4, Seq: 9}, nil
}

func (f *fakeSession) AddAnnotation(ctx context.Context, idx int, note string) (types.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("add:%d:%s", idx, note))
	if strings.TrimSpace(note) == "" {
		return types.Annotation{}, session.ErrEmptyNote
	}
	if f.annotateErr != nil {
		return types.Annotation{}, f.annotateErr
	}
	a := types.Annotation{LandmarkIndex: idx, Note: note}
	f.ledger = append(f.ledger, a)
	return a, nil
}

func (f *fakeSession) Annotations() []types.Annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Annotation{}, f.ledger...)
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{ID: "test-session", State: capture.Streaming, Device: f.selected, Annotations: len(f.ledger)}
}

func (f *fakeSession) BaseLayer() *session.Layer    { return f.base }
func (f *fakeSession) OverlayLayer() *session.Layer { return f.overlay }

func do(t *testing.T, s *Server, method, path, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestIndex(t *testing.T) {
	s := New(newFakeSession(), Options{Width: 640, Height: 480})
	code, body := do(t, s, http.MethodGet, "/", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, want := range []string{"width: 640px", "Click a point on the face to add an annotation.", "/ws/overlay"} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "{{WIDTH}}") {
		t.Error("page has unreplaced placeholders")
	}
}

func TestListDevices(t *testing.T) {
	tests := []struct {
		name       string
		devices    []types.Device
		switchable bool
	}{
		{"none", nil, false},
		{"single camera", []types.Device{{ID: "cam0", Label: "Front"}}, false},
		{"two cameras", []types.Device{{ID: "cam0"}, {ID: "cam1"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newFakeSession(tt.devices...), Options{Width: 640, Height: 480})
			code, body := do(t, s, http.MethodGet, "/api/devices", "")
			if code != http.StatusOK {
				t.Fatalf("status = %d body = %s", code, body)
			}
			var got devicesResponse
			if err := jsoniter.Unmarshal([]byte(body), &got); err != nil {
				t.Fatal(err)
			}
			if got.Switchable != tt.switchable {
				t.Errorf("switchable = %v, want %v", got.Switchable, tt.switchable)
			}
			if len(got.Devices) != len(tt.devices) {
				t.Errorf("got %d devices, want %d", len(got.Devices), len(tt.devices))
			}
		})
	}
}

func TestSelectDevice(t *testing.T) {
	fs := newFakeSession(types.Device{ID: "cam0"}, types.Device{ID: "cam1"})
	s := New(fs, Options{Width: 640, Height: 480})

	if code, _ := do(t, s, http.MethodPost, "/api/devices/select", `{}`); code != http.StatusBadRequest {
		t.Errorf("missing device_id: status = %d, want 400", code)
	}
	if code, body := do(t, s, http.MethodPost, "/api/devices/select", `{"device_id":"cam1"}`); code != http.StatusOK {
		t.Errorf("select: status = %d body = %s", code, body)
	}

	fs.selectErr = fmt.Errorf("%w: cam0: busy", capture.ErrAcquire)
	code, body := do(t, s, http.MethodPost, "/api/devices/select", `{"device_id":"cam0"}`)
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "busy") {
		t.Errorf("failed select: status = %d body = %s", code, body)
	}
	if diff := cmp.Diff([]string{"select:cam1", "select:cam0"}, fs.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		resolveErr error
		wantCode   int
		wantBody   string
	}{
		{"picked", `{"x":320,"y":240}`, nil, http.StatusOK, `"landmark_index":4`},
		{"origin click is valid", `{"x":0,"y":0}`, nil, http.StatusOK, `"seq":9`},
		{"no face", `{"x":320,"y":240}`, session.ErrNoFace, http.StatusConflict, "no face"},
		{"missing x", `{"y":240}`, nil, http.StatusBadRequest, "X"},
		{"negative y", `{"x":1,"y":-3}`, nil, http.StatusBadRequest, "Y"},
		{"outside view", `{"x":900,"y":10}`, nil, http.StatusBadRequest, "outside"},
		{"malformed", `{"x":`, nil, http.StatusBadRequest, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeSession()
			fs.resolveErr = tt.resolveErr
			s := New(fs, Options{Width: 640, Height: 480})
			code, body := do(t, s, http.MethodPost, "/api/resolve", tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", code, tt.wantCode, body)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Errorf("body %s does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestAddAnnotation(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		annotateErr error
		wantCode    int
	}{
		{"created", `{"landmark_index":4,"note":"nose"}`, nil, http.StatusCreated},
		{"index zero is valid", `{"landmark_index":0,"note":"chin"}`, nil, http.StatusCreated},
		{"cancelled prompt", `{"landmark_index":4,"note":""}`, nil, http.StatusNoContent},
		{"rejected index", `{"landmark_index":4,"note":"nose"}`, session.ErrLandmark, http.StatusBadRequest},
		{"closed session", `{"landmark_index":4,"note":"nose"}`, session.ErrClosed, http.StatusServiceUnavailable},
		{"missing index", `{"note":"nose"}`, nil, http.StatusBadRequest},
		{"negative index", `{"landmark_index":-1,"note":"nose"}`, nil, http.StatusBadRequest},
		{"malformed", `{"landmark_index":`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeSession()
			fs.annotateErr = tt.annotateErr
			s := New(fs, Options{Width: 640, Height: 480})
			code, body := do(t, s, http.MethodPost, "/api/annotations", tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", code, tt.wantCode, body)
			}
		})
	}
}

func TestListAnnotations(t *testing.T) {
	fs := newFakeSession()
	s := New(fs, Options{Width: 640, Height: 480})
	do(t, s, http.MethodPost, "/api/annotations", `{"landmark_index":1,"note":"first"}`)
	do(t, s, http.MethodPost, "/api/annotations", `{"landmark_index":7,"note":"second"}`)

	code, body := do(t, s, http.MethodGet, "/api/annotations", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got []types.Annotation
	if err := jsoniter.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	want := []types.Annotation{{LandmarkIndex: 1, Note: "first"}, {LandmarkIndex: 7, Note: "second"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("annotations mismatch (-want +got):\n%s", diff)
	}

	code, body = do(t, s, http.MethodGet, "/api/session", "")
	if code != http.StatusOK || !strings.Contains(body, `"state":"streaming"`) || !strings.Contains(body, `"annotations":2`) {
		t.Errorf("session: status = %d body = %s", code, body)
	}
}

func TestLatestLayer(t *testing.T) {
	fs := newFakeSession()
	s := New(fs, Options{Width: 640, Height: 480})

	if code, _ := do(t, s, http.MethodGet, "/api/layers/base", ""); code != http.StatusNoContent {
		t.Errorf("empty layer: status = %d, want 204", code)
	}
	fs.overlay.Publish([]byte("png-bytes"))
	code, body := do(t, s, http.MethodGet, "/api/layers/overlay", "")
	if code != http.StatusOK || body != "png-bytes" {
		t.Errorf("overlay: status = %d body = %q", code, body)
	}
	if code, _ := do(t, s, http.MethodGet, "/api/layers/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown layer: status = %d, want 404", code)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := New(newFakeSession(), Options{Width: 640, Height: 480})
	if code, _ := do(t, s, http.MethodGet, "/ws/base", ""); code != http.StatusUpgradeRequired {
		t.Errorf("plain GET: status = %d, want 426", code)
	}
}

// The annotation request never re-resolves, so no resolve call happens
// between the pick and the ledger append.
func TestResolveThenAnnotate(t *testing.T) {
	fs := newFakeSession()
	s := New(fs, Options{Width: 640, Height: 480})

	code, body := do(t, s, http.MethodPost, "/api/resolve", `{"x":320,"y":240}`)
	if code != http.StatusOK {
		t.Fatalf("resolve: status = %d body = %s", code, body)
	}
	var pick session.Pick
	if err := jsoniter.Unmarshal([]byte(body), &pick); err != nil {
		t.Fatal(err)
	}
	req := fmt.Sprintf(`{"landmark_index":%d,"note":"brow"}`, pick.LandmarkIndex)
	if code, body := do(t, s, http.MethodPost, "/api/annotations", req); code != http.StatusCreated {
		t.Fatalf("annotate: status = %d body = %s", code, body)
	}
	if diff := cmp.Diff([]string{"resolve:320,240", "add:4:brow"}, fs.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}
