// internal/handler/service.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/liveness-service/internal/cache"
	"github.com/SyedDaiam9101/liveness-service/internal/faceimage"
	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
	"github.com/SyedDaiam9101/liveness-service/internal/logging"
	"github.com/SyedDaiam9101/liveness-service/internal/metrics"
	"github.com/SyedDaiam9101/liveness-service/internal/middleware"
	"github.com/SyedDaiam9101/liveness-service/internal/motion"
	"github.com/SyedDaiam9101/liveness-service/internal/repository"
)

// Evaluator runs the liveness model. *liveness.Pool implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, img *liveness.RGBImage) (liveness.Verdict, error)
	Threshold() float32
}

// VerdictCache stores model verdicts by image digest. *cache.Cache implements it.
type VerdictCache interface {
	GetVerdict(ctx context.Context, key string) (*liveness.Verdict, bool, error)
	SetVerdict(ctx context.Context, key string, v liveness.Verdict, ttl time.Duration) error
}

// AuditLog persists decisions. *repository.VerdictRepository implements it.
type AuditLog interface {
	SaveLog(ctx context.Context, log *repository.VerdictLog) error
}

// MotionSource reports dynamic checks for a capture session.
// *motion.Registry implements it.
type MotionSource interface {
	Assess(sessionID string) (motion.Assessment, bool)
}

// Request is one liveness check.
type Request struct {
	// Image is an encoded JPEG, PNG or WebP picture.
	Image []byte
	// Box optionally crops the face out of a larger frame.
	Box *image.Rectangle
	// SessionID optionally links the image to a motion-tracked session.
	SessionID string
	// Source names the transport ("grpc", "http") for the audit log.
	Source string
}

// Result is the outcome of Verify.
type Result struct {
	RequestID string
	// Model is the classifier verdict.
	Model liveness.Verdict
	// Live is the final decision after motion checks.
	Live   bool
	Cached bool
	Motion *motion.Assessment
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache enables verdict caching.
func WithCache(c VerdictCache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithAuditLog enables persisting every decision.
func WithAuditLog(a AuditLog) ServiceOption {
	return func(s *Service) { s.audit = a }
}

// WithEvaluateTimeout bounds the wait for a free classifier plus inference.
func WithEvaluateTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.evalTimeout = d }
}

// WithMaxImagePixels bounds the declared pixel count of images that are
// decoded for cropping.
func WithMaxImagePixels(n int) ServiceOption {
	return func(s *Service) { s.maxPixels = n }
}

// WithMotion enables combining verdicts with motion assessments.
func WithMotion(m MotionSource) ServiceOption {
	return func(s *Service) { s.motion = m }
}

// Service is the verdict pipeline shared by the gRPC and HTTP surfaces:
// decode, optional crop, cache lookup, model, motion override, audit.
type Service struct {
	eval     Evaluator
	cache    VerdictCache
	cacheTTL time.Duration
	audit    AuditLog
	motion   MotionSource
	logger   *zap.Logger
	tracer   trace.Tracer

	evalTimeout time.Duration
	maxPixels   int
}

// NewService builds a Service around eval.
func NewService(eval Evaluator, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		eval:   eval,
		logger: logger.Named("verdict_service"),
		tracer: otel.Tracer("github.com/SyedDaiam9101/liveness-service/internal/handler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the service has a model to evaluate with.
func (s *Service) Ready() bool {
	return s != nil && s.eval != nil
}

// Verify decides liveness for req.
func (s *Service) Verify(ctx context.Context, req Request) (*Result, error) {
	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if !s.Ready() {
		return nil, logging.NewOperationError("handler.verify", requestID, liveness.ErrClosed)
	}
	opLogger := logging.WithOperation(s.logger, "handler.verify", requestID)

	ctx, span := s.tracer.Start(ctx, "liveness.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID), attribute.String("source", req.Source))

	res := &Result{RequestID: requestID}
	cropKey := ""
	if req.Box != nil {
		cropKey = req.Box.String()
	}
	key := cache.Key(req.Image, cropKey, s.eval.Threshold())

	if s.cache != nil {
		cached, ok, err := s.cache.GetVerdict(ctx, key)
		if err != nil {
			opLogger.Warn("verdict cache read failed", zap.Error(err))
		} else if ok {
			res.Model = *cached
			res.Cached = true
		}
	}

	if !res.Cached {
		verdict, err := s.evaluate(ctx, req)
		if err != nil {
			metrics.RecordError(errorKind(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			opLogger.Warn("liveness evaluation failed", zap.Error(err))
			return nil, logging.NewOperationError("handler.verify", requestID, err)
		}
		res.Model = verdict

		if s.cache != nil {
			if err := s.cache.SetVerdict(ctx, key, verdict, s.cacheTTL); err != nil {
				opLogger.Warn("verdict cache write failed", zap.Error(err))
			}
		}
	}

	res.Live = res.Model.Live
	if req.SessionID != "" && s.motion != nil {
		if a, ok := s.motion.Assess(req.SessionID); ok {
			res.Motion = &a
			if res.Live && !a.Pass {
				res.Live = false
				metrics.RecordMotionOverride()
				opLogger.Info("model-live verdict overridden: no blink observed",
					zap.String("session_id", req.SessionID),
					zap.Bool("too_still", a.TooStill))
			}
		}
	}

	metrics.RecordVerdict(res.Live, res.Cached, res.Model.Score)
	span.SetAttributes(
		attribute.Bool("live", res.Live),
		attribute.Float64("score", float64(res.Model.Score)),
		attribute.Bool("cached", res.Cached),
	)

	if s.audit != nil {
		entry := &repository.VerdictLog{
			RequestID:     requestID,
			Digest:        key,
			Score:         res.Model.Score,
			Threshold:     res.Model.Threshold,
			ModelLive:     res.Model.Live,
			Live:          res.Live,
			MotionChecked: res.Motion != nil,
			MotionPass:    res.Motion != nil && res.Motion.Pass,
			Cached:        res.Cached,
			Source:        req.Source,
		}
		if err := s.audit.SaveLog(ctx, entry); err != nil {
			opLogger.Error("failed to persist verdict", zap.Error(err))
			return nil, logging.NewOperationError("handler.audit", requestID, err)
		}
	}

	opLogger.Debug("liveness verdict",
		zap.Bool("live", res.Live),
		zap.Float32("score", res.Model.Score),
		zap.Bool("cached", res.Cached))

	return res, nil
}

func (s *Service) evaluate(ctx context.Context, req Request) (liveness.Verdict, error) {
	img, err := faceimage.PrepareWithLimit(req.Image, req.Box, s.maxPixels)
	if err != nil {
		if liveness.IsInvalidInput(err) {
			return liveness.Verdict{}, err
		}
		return liveness.Verdict{}, &liveness.InvalidInputError{Reason: err.Error()}
	}
	if err := liveness.Validate(img); err != nil {
		return liveness.Verdict{}, err
	}

	if s.evalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.evalTimeout)
		defer cancel()
	}

	start := time.Now()
	verdict, err := s.eval.Evaluate(ctx, img)
	metrics.RecordInferenceLatency(time.Since(start).Seconds())
	if err != nil {
		return liveness.Verdict{}, err
	}
	return verdict, nil
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case liveness.IsInvalidInput(err):
		return "invalid_input"
	case liveness.IsInference(err):
		return "inference"
	case errors.Is(err, liveness.ErrClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "unavailable"
	default:
		return "internal"
	}
}

// String renders a result for logs and the CLI.
func (r *Result) String() string {
	verdict := "spoof"
	if r.Live {
		verdict = "live"
	}
	return fmt.Sprintf("%s (score=%.4f threshold=%.4f)", verdict, r.Model.Score, r.Model.Threshold)
}
