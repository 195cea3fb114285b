package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/SyedDaiam9101/liveness-service/internal/handler"
	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
	"github.com/SyedDaiam9101/liveness-service/internal/motion"
)

type stubEvaluator struct {
	score float32
	err   error
}

func (s *stubEvaluator) Evaluate(ctx context.Context, img *liveness.RGBImage) (liveness.Verdict, error) {
	if s.err != nil {
		return liveness.Verdict{}, s.err
	}
	return liveness.Verdict{Score: s.score, Threshold: 0.5, Live: s.score < 0.5}, nil
}

func (s *stubEvaluator) Threshold() float32 { return 0.5 }

func newRouter(t *testing.T, eval handler.Evaluator, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var svc *handler.Service
	if eval != nil {
		var sopts []handler.ServiceOption
		if m, ok := opts.Frames.(handler.MotionSource); ok {
			sopts = append(sopts, handler.WithMotion(m))
		}
		svc = handler.NewService(eval, nil, sopts...)
	}
	RegisterRoutes(router, svc, opts)
	return router
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postClassify(router *gin.Engine, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/classify", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestClassifyLive(t *testing.T) {
	router := newRouter(t, &stubEvaluator{score: 0.1}, Options{})
	body, ct := buildMultipartBody(t, "image/png", pngBytes(t, liveness.InputSize, liveness.InputSize), nil)

	resp := postClassify(router, body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var out struct {
		RequestID string  `json:"request_id"`
		Live      bool    `json:"live"`
		ModelLive bool    `json:"model_live"`
		Score     float32 `json:"score"`
		Threshold float32 `json:"threshold"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !out.Live || !out.ModelLive || out.Score != 0.1 || out.Threshold != 0.5 {
		t.Errorf("unexpected response %+v", out)
	}
	if out.RequestID == "" || out.RequestID != resp.Header().Get("x-request-id") {
		t.Errorf("expected request ID %q to match header %q", out.RequestID, resp.Header().Get("x-request-id"))
	}
}

func TestClassifyWithBox(t *testing.T) {
	router := newRouter(t, &stubEvaluator{score: 0.9}, Options{})
	body, ct := buildMultipartBody(t, "image/png", pngBytes(t, 300, 300), map[string]string{"box": "50,50,250,250"})

	resp := postClassify(router, body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"live":false`) {
		t.Errorf("expected spoof verdict, got %s", resp.Body.String())
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name        string
		eval        handler.Evaluator
		contentType string
		payload     []byte
		fields      map[string]string
		status      int
	}{
		{"wrong size", &stubEvaluator{}, "image/png", pngBytes(t, 100, 100), nil, http.StatusBadRequest},
		{"bad box", &stubEvaluator{}, "image/png", pngBytes(t, 100, 100), map[string]string{"box": "1,2"}, http.StatusBadRequest},
		{"not an image", &stubEvaluator{}, "image/png", []byte("hello"), nil, http.StatusBadRequest},
		{"unsupported type", &stubEvaluator{}, "text/plain", []byte("hello"), nil, http.StatusUnsupportedMediaType},
		{"inference failure", &stubEvaluator{err: &liveness.InferenceError{Err: errors.New("boom")}}, "image/png",
			pngBytes(t, liveness.InputSize, liveness.InputSize), nil, http.StatusInternalServerError},
		{"closed", &stubEvaluator{err: liveness.ErrClosed}, "image/png",
			pngBytes(t, liveness.InputSize, liveness.InputSize), nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(t, tt.eval, Options{})
			body, ct := buildMultipartBody(t, tt.contentType, tt.payload, tt.fields)
			resp := postClassify(router, body, ct)
			if resp.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestClassifyRequiresImage(t *testing.T) {
	router := newRouter(t, &stubEvaluator{}, Options{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	_ = writer.WriteField("session", "abc")
	_ = writer.Close()

	resp := postClassify(router, body, writer.FormDataContentType())
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestClassifyRejectsLargeUpload(t *testing.T) {
	router := newRouter(t, &stubEvaluator{}, Options{})
	body, ct := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+128<<10), nil)

	resp := postClassify(router, body, ct)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestFramesAndMotionOverride(t *testing.T) {
	reg := motion.NewRegistry(8, 0)
	router := newRouter(t, &stubEvaluator{score: 0.1}, Options{Frames: reg})

	// Ten open-eyed, motionless frames: enough history, no blink.
	for i := 0; i < motion.MinFrames; i++ {
		payload := `{"tracking_id":1,"timestamp":"2026-01-01T12:00:0` + string(rune('0'+i)) + `Z",` +
			`"center_x":100,"center_y":100,"left_eye_open":0.9,"right_eye_open":0.9}`
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/cam-1/frames", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("frame %d: expected status %d, got %d: %s", i, http.StatusOK, resp.Code, resp.Body.String())
		}
	}

	body, ct := buildMultipartBody(t, "image/png", pngBytes(t, liveness.InputSize, liveness.InputSize),
		map[string]string{"session": "cam-1"})
	resp := postClassify(router, body, ct)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}

	var out struct {
		Live      bool               `json:"live"`
		ModelLive bool               `json:"model_live"`
		Motion    *motion.Assessment `json:"motion"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Live || !out.ModelLive {
		t.Errorf("expected model-live verdict overridden to spoof, got %+v", out)
	}
	if out.Motion == nil || out.Motion.Frames != motion.MinFrames || out.Motion.Blinked {
		t.Errorf("unexpected motion %+v", out.Motion)
	}
}

func TestFramesRejectsBadJSON(t *testing.T) {
	router := newRouter(t, &stubEvaluator{}, Options{Frames: motion.NewRegistry(1, 0)})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/x/frames", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	tests := []struct {
		name   string
		eval   handler.Evaluator
		ready  ReadinessFunc
		status int
	}{
		{"ready", &stubEvaluator{}, nil, http.StatusOK},
		{"no model", nil, nil, http.StatusServiceUnavailable},
		{"dependency down", &stubEvaluator{}, func(context.Context) error { return errors.New("draining") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(t, tt.eval, Options{Ready: tt.ready})

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if resp.Code != tt.status {
				t.Errorf("readyz: expected status %d, got %d", tt.status, resp.Code)
			}

			resp = httptest.NewRecorder()
			router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if resp.Code != http.StatusOK {
				t.Errorf("healthz: expected status %d, got %d", http.StatusOK, resp.Code)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, &stubEvaluator{}, Options{})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "liveness_") {
		t.Error("expected liveness metrics in exposition")
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(&liveness.InvalidInputError{}); got != http.StatusBadRequest {
		t.Errorf("invalid input: got %d", got)
	}
	if got := statusFor(context.DeadlineExceeded); got != http.StatusServiceUnavailable {
		t.Errorf("deadline: got %d", got)
	}
	if got := statusFor(errors.New("x")); got != http.StatusInternalServerError {
		t.Errorf("other: got %d", got)
	}
}
