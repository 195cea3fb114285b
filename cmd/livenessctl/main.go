// cmd/livenessctl/main.go
package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SyedDaiam9101/liveness-service/internal/faceimage"
	"github.com/SyedDaiam9101/liveness-service/internal/handler"
	"github.com/SyedDaiam9101/liveness-service/internal/inference"
	"github.com/SyedDaiam9101/liveness-service/internal/liveness"
	"github.com/SyedDaiam9101/liveness-service/internal/logging"
	"github.com/SyedDaiam9101/liveness-service/internal/modelstore"
)

// Exit codes.
const (
	exitLive  = 0
	exitSpoof = 1
	exitError = 2
)

type options struct {
	model      string
	threshold  float64
	box        string
	remote     string
	ortLibrary string
	mockScore  float64
	useMock    bool
	timeout    time.Duration
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, afero.NewOsFs()))
}

func run(args []string, stdout, stderr io.Writer, fs afero.Fs) int {
	var opts options
	flags := pflag.NewFlagSet("livenessctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.model, "model", "liveness.onnx", "Path to the ONNX liveness model")
	flags.Float64Var(&opts.threshold, "threshold", 0.5, "Spoof score below which a face is live")
	flags.StringVar(&opts.box, "box", "", "Face box x0,y0,x1,y1 to crop before classifying")
	flags.StringVar(&opts.remote, "remote", "", "Classify through a running service at host:port instead of a local model")
	flags.StringVar(&opts.ortLibrary, "ort-library", "", "Path to the onnxruntime shared library")
	flags.Float64Var(&opts.mockScore, "mock-score", 0.1, "Score returned by the mock engine")
	flags.BoolVar(&opts.useMock, "mock", false, "Use the mock engine instead of ONNX Runtime")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Remote call timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log the raw score at debug level")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: livenessctl [flags] image")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return exitError
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitError
	}

	data, err := afero.ReadFile(fs, flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "failed to read image: %v\n", err)
		return exitError
	}

	var box *image.Rectangle
	if opts.box != "" {
		r, err := faceimage.ParseBox(opts.box)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		box = &r
	}

	var live bool
	if opts.remote != "" {
		live, err = classifyRemote(opts, data, box, stdout)
	} else {
		live, err = classifyLocal(opts, fs, data, box, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "classification failed: %v\n", err)
		return exitError
	}
	if live {
		return exitLive
	}
	return exitSpoof
}

func classifyLocal(opts options, fs afero.Fs, data []byte, box *image.Rectangle, stdout io.Writer) (bool, error) {
	logger := zap.NewNop()
	if opts.verbose {
		l, err := logging.NewLogger("debug")
		if err != nil {
			return false, err
		}
		defer func() { _ = l.Sync() }()
		logger = l
	}

	var open inference.Opener
	if opts.useMock {
		open = inference.MockOpener(inference.NewMock(float32(opts.mockScore)))
	} else {
		onnx := inference.DefaultONNXOptions()
		onnx.SharedLibraryPath = opts.ortLibrary
		open = inference.OpenONNX(onnx)
	}

	c, err := liveness.New(modelstore.New(fs), open, opts.model, float32(opts.threshold), liveness.WithLogger(logger))
	if err != nil {
		return false, err
	}
	defer c.Close()

	img, err := faceimage.Prepare(data, box)
	if err != nil {
		if liveness.IsInvalidInput(err) {
			return false, err
		}
		return false, &liveness.InvalidInputError{Reason: err.Error()}
	}

	v, err := c.Evaluate(img)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(stdout, "%s score=%.4f threshold=%.4f\n", verdictWord(v.Live), v.Score, v.Threshold)
	return v.Live, nil
}

func classifyRemote(opts options, data []byte, box *image.Rectangle, stdout io.Writer) (bool, error) {
	conn, err := grpc.NewClient(opts.remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", opts.remote, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	resp, err := handler.NewClient(conn).Classify(ctx, data, handler.ClassifyOptions{Box: box})
	if err != nil {
		return false, err
	}

	f := resp.GetFields()
	live := f["live"].GetBoolValue()
	fmt.Fprintf(stdout, "%s score=%.4f threshold=%.4f request_id=%s\n",
		verdictWord(live), f["score"].GetNumberValue(), f["threshold"].GetNumberValue(), f["request_id"].GetStringValue())
	return live, nil
}

func verdictWord(live bool) string {
	if live {
		return "live"
	}
	return "spoof"
}
