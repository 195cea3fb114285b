// internal/handler/handler.go
package handler

import (
	"context"
	"errors"
	"image"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/SyedDaiam9101/liveness-service/internal/faceimage"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "liveness.v1.Liveness"
	// ClassifyMethod is the full method name of Classify.
	ClassifyMethod = "/" + ServiceName + "/Classify"

	// FaceBoxHeader carries an optional "x0,y0,x1,y1" crop box.
	FaceBoxHeader = "x-face-box"
	// SessionHeader links the request to a motion-tracked capture session.
	SessionHeader = "x-session-id"
)

// LivenessServer is the server API for the liveness.v1.Liveness service.
// The request carries the encoded image bytes, the response is a struct with
// request_id, live, model_live, score, threshold and cached fields.
type LivenessServer interface {
	Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// Handler implements LivenessServer on top of a Service.
type Handler struct {
	svc *Service
}

// New creates a new Handler around svc.
func New(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Classify handles a single liveness check.
func (h *Handler) Classify(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if req == nil || len(req.GetValue()) == 0 {
		return nil, invalidArgumentError("image payload cannot be empty")
	}
	if h.svc == nil || !h.svc.Ready() {
		return nil, failedPreconditionError("liveness classifier not initialized")
	}

	vreq := Request{Image: req.GetValue(), Source: "grpc"}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(FaceBoxHeader); len(v) > 0 && v[0] != "" {
			box, err := faceimage.ParseBox(v[0])
			if err != nil {
				return nil, invalidArgumentError("invalid %s: %v", FaceBoxHeader, err)
			}
			vreq.Box = &box
		}
		if v := md.Get(SessionHeader); len(v) > 0 {
			vreq.SessionID = v[0]
		}
	}

	res, err := h.svc.Verify(ctx, vreq)
	if err != nil {
		return nil, grpcError(err)
	}
	return resultToStruct(res)
}

func resultToStruct(res *Result) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"request_id": res.RequestID,
		"live":       res.Live,
		"model_live": res.Model.Live,
		"score":      float64(res.Model.Score),
		"threshold":  float64(res.Model.Threshold),
		"cached":     res.Cached,
	}
	if res.Motion != nil {
		fields["motion"] = map[string]interface{}{
			"frames":    res.Motion.Frames,
			"enough":    res.Motion.Enough,
			"too_still": res.Motion.TooStill,
			"blinked":   res.Motion.Blinked,
			"pass":      res.Motion.Pass,
		}
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, internalError("failed to encode response: %v", err)
	}
	return out, nil
}

// Register adds the liveness service to s.
func Register(s grpc.ServiceRegistrar, srv LivenessServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LivenessServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ClassifyMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LivenessServer).Classify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the liveness.v1.Liveness service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LivenessServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Classify",
			Handler:    classifyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "liveness/v1/liveness.proto",
}

// ClassifyOptions are the optional request attributes sent as metadata.
type ClassifyOptions struct {
	Box       *image.Rectangle
	SessionID string
}

// Client calls a remote liveness service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Classify sends an encoded image and returns the raw response struct.
func (c *Client) Classify(ctx context.Context, img []byte, opts ClassifyOptions, callOpts ...grpc.CallOption) (*structpb.Struct, error) {
	if len(img) == 0 {
		return nil, errors.New("image payload cannot be empty")
	}
	var pairs []string
	if opts.Box != nil {
		pairs = append(pairs, FaceBoxHeader, faceimage.FormatBox(*opts.Box))
	}
	if opts.SessionID != "" {
		pairs = append(pairs, SessionHeader, opts.SessionID)
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ClassifyMethod, wrapperspb.Bytes(img), out, callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}
