package main

import (
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-facemask/config"
	"github.com/nvr-ai/go-facemask/inference"
	"github.com/nvr-ai/go-facemask/inference/providers"
	"github.com/nvr-ai/go-facemask/profiler"
	"github.com/nvr-ai/go-facemask/util"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{Name: "config, c", Usage: "path to a YAML configuration file"},
	cli.StringFlag{Name: "model, m", Usage: "path to the .onnx or .tflite model", EnvVar: "FACEMASK_MODEL"},
	cli.StringFlag{Name: "backend", Usage: "inference backend: onnx or tflite"},
	cli.StringFlag{Name: "provider", Usage: "onnxruntime execution provider: cpu, coreml, openvino or cuda"},
	cli.StringFlag{Name: "layout", Usage: "model input layout: nhwc or nchw"},
	cli.Float64Flag{Name: "confidence", Usage: "minimum class score, exclusive"},
	cli.Float64Flag{Name: "iou", Usage: "overlap ratio at which the weaker box is suppressed"},
	cli.IntFlag{Name: "threads", Usage: "inference threads, 0 lets the runtime decide"},
	cli.StringFlag{Name: "log-level", Usage: "log level: trace, debug, info, warn or error"},
	cli.BoolFlag{Name: "log-json", Usage: "write logs as JSON"},
	cli.BoolFlag{Name: "profile", Usage: "log stage timings periodically"},
}

// options holds the command line overrides of the configuration file.
type options struct {
	ConfigPath string
	ModelPath  string
	Backend    string
	Provider   string
	Layout     string
	Confidence float64
	IoU        float64
	Threads    int
	LogLevel   string
	LogJSON    bool
	Profile    bool
}

func optionsFromContext(ctx *cli.Context) options {
	return options{
		ConfigPath: ctx.GlobalString("config"),
		ModelPath:  ctx.GlobalString("model"),
		Backend:    ctx.GlobalString("backend"),
		Provider:   ctx.GlobalString("provider"),
		Layout:     ctx.GlobalString("layout"),
		Confidence: ctx.GlobalFloat64("confidence"),
		IoU:        ctx.GlobalFloat64("iou"),
		Threads:    ctx.GlobalInt("threads"),
		LogLevel:   ctx.GlobalString("log-level"),
		LogJSON:    ctx.GlobalBool("log-json"),
		Profile:    ctx.GlobalBool("profile"),
	}
}

// load reads the configuration file, if any, and applies the overrides.
func (o options) load() (*config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, err
		}
	}

	if o.ModelPath != "" {
		cfg.Model.ModelPath = o.ModelPath
		if o.Backend == "" && filepath.Ext(o.ModelPath) == ".tflite" {
			cfg.Model.Backend = inference.BackendTFLite
		}
	}
	if o.Backend != "" {
		cfg.Model.Backend = inference.Backend(o.Backend)
	}
	if o.Provider != "" {
		cfg.Model.Provider.Backend = providers.ProviderBackend(o.Provider)
	}
	if o.Layout != "" {
		cfg.Layout = config.Layout(o.Layout)
	}
	if o.Confidence > 0 {
		cfg.Detector.ConfidenceThreshold = float32(o.Confidence)
	}
	if o.IoU > 0 {
		cfg.Detector.NMS.IoUThreshold = float32(o.IoU)
	}
	if o.Threads > 0 {
		cfg.Model.Threads = o.Threads
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogJSON {
		cfg.Log.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model.ModelPath == "" {
		return nil, errors.New("a model path is required, use --model or the model.model_path key")
	}
	return cfg, nil
}

// newEngine builds the engine and profiler described by cfg.
func newEngine(cfg *config.Config, profile bool) (inference.Engine, *profiler.Profiler, error) {
	prof := profiler.New(cfg.Profiler)
	engine, err := inference.NewEngineBuilder().
		WithPreprocessor(cfg.PreprocessConfig()).
		WithRunner(cfg.RunnerConfig()).
		WithDetector(cfg.Detector).
		WithProfiler(prof).
		Build()
	if err != nil {
		return nil, nil, err
	}
	if profile {
		prof.Start()
	}
	return engine, prof, nil
}

// collectInputs expands the arguments into image files.
// Directories contribute every image they contain, in frame order.
func collectInputs(args []string) ([]util.ImageFile, error) {
	var files []util.ImageFile
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading input %s", arg)
		}

		if info.IsDir() {
			dir, err := util.LoadDirectoryImageFiles(arg)
			if err != nil {
				return nil, err
			}
			files = append(files, dir...)
			continue
		}

		file, err := util.LoadImageFile(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}
