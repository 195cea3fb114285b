// Package httpapi exposes the liveness service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/liveness-service/internal/faceimage"
	"github.com/SyedDaiam9101/liveness-service/internal/handler"
	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
	"github.com/SyedDaiam9101/liveness-service/internal/middleware"
	"github.com/SyedDaiam9101/liveness-service/internal/motion"
)

// MaxUploadSize bounds a classify upload.
const MaxUploadSize = 8 << 20

// FrameObserver records face snapshots for a capture session.
// *motion.Registry implements it.
type FrameObserver interface {
	Observe(sessionID string, trackingID *int, s motion.Snapshot) motion.Assessment
}

// ReadinessFunc reports nil when the service can take traffic.
type ReadinessFunc func(ctx context.Context) error

// Options configures RegisterRoutes. Frames and Ready are optional.
type Options struct {
	Frames FrameObserver
	Ready  ReadinessFunc
	Logger *zap.Logger
}

type frameRequest struct {
	TrackingID *int `json:"tracking_id"`
	motion.Snapshot
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc *handler.Service, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.Use(middleware.GinRequestID(), middleware.GinMetrics())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/readyz", func(c *gin.Context) {
		if !svc.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		if opts.Ready != nil {
			if err := opts.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")

	v1.POST("/classify", func(c *gin.Context) {
		// Multipart framing adds a little on top of the file itself.
		limit := int64(MaxUploadSize + 64<<10)
		if c.Request.ContentLength > limit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if ct := file.Header.Get("Content-Type"); !acceptedContentType(ct) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type " + ct})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		req := handler.Request{
			Image:     data,
			SessionID: c.PostForm("session"),
			Source:    "http",
		}
		if raw := c.PostForm("box"); raw != "" {
			box, err := faceimage.ParseBox(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			req.Box = &box
		}

		res, err := svc.Verify(c.Request.Context(), req)
		if err != nil {
			logger.Warn("classify failed",
				zap.String("request_id", middleware.GetRequestID(c.Request.Context())),
				zap.Error(err))
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		body := gin.H{
			"request_id": res.RequestID,
			"live":       res.Live,
			"model_live": res.Model.Live,
			"score":      res.Model.Score,
			"threshold":  res.Model.Threshold,
			"cached":     res.Cached,
		}
		if res.Motion != nil {
			body["motion"] = res.Motion
		}
		c.JSON(http.StatusOK, body)
	})

	if opts.Frames != nil {
		v1.POST("/sessions/:id/frames", func(c *gin.Context) {
			sessionID := c.Param("id")
			if sessionID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
				return
			}

			var req frameRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if req.Timestamp.IsZero() {
				req.Timestamp = time.Now()
			}

			a := opts.Frames.Observe(sessionID, req.TrackingID, req.Snapshot)
			c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "motion": a})
		})
	}
}

func acceptedContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case liveness.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, liveness.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
