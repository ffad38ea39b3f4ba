// Package preprocess - converts frames into model input tensors.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/pkg/errors"
)

var log = event.Log

// ErrInvalidInput is returned for frames that cannot be preprocessed.
var ErrInvalidInput = errors.New("invalid preprocessing input")

// ModelConfig defines preprocessing configuration for a specific model.
type ModelConfig struct {
	// Name of the model for debugging purposes.
	Name string `json:"name" yaml:"name"`
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height"`
	// NormalizationType defines how to normalize pixel values.
	NormalizationType NormalizationType `json:"normalization" yaml:"normalization"`
	// ChannelOrder defines the channel ordering (CHW or HWC).
	ChannelOrder ChannelOrder `json:"channel_order" yaml:"channel_order"`
	// ColorMode defines the color space (RGB or BGR).
	ColorMode ColorMode `json:"color_mode" yaml:"color_mode"`
	// ResizeMode defines how the frame is fitted into the input square.
	ResizeMode ResizeMode `json:"resize_mode" yaml:"resize_mode"`
	// Interpolation is the nfnt/resize interpolation function.
	Interpolation resize.InterpolationFunction `json:"interpolation" yaml:"interpolation"`
	// LetterboxColor is the color used for letterbox padding (default black).
	LetterboxColor color.Color `json:"-" yaml:"-"`
}

// NormalizationType defines how pixel values are normalized.
type NormalizationType int

const (
	// NormalizeNone keeps pixel values as 0-255.
	NormalizeNone NormalizationType = iota
	// NormalizeZeroToOne scales pixel values to [0, 1].
	NormalizeZeroToOne
	// NormalizeMinusOneToOne scales pixel values to [-1, 1].
	NormalizeMinusOneToOne
)

// ChannelOrder defines the ordering of image channels.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (common for ONNX).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering (TFLite).
	ChannelOrderHWC
)

// ColorMode defines the color space of the image.
type ColorMode int

const (
	// ColorModeRGB is standard RGB color mode.
	ColorModeRGB ColorMode = iota
	// ColorModeBGR is BGR color mode (common for OpenCV models).
	ColorModeBGR
)

// ResizeMode defines how a frame of arbitrary aspect ratio becomes the model input.
type ResizeMode int

const (
	// ResizeCenterCrop crops the largest centered square, then scales it.
	ResizeCenterCrop ResizeMode = iota
	// ResizeLetterbox scales the whole frame and pads the remainder.
	ResizeLetterbox
	// ResizeStretch scales the frame to the input size ignoring aspect ratio.
	ResizeStretch
)

// Result contains the preprocessed image data and metadata.
type Result struct {
	// Data is the preprocessed float32 tensor data.
	Data []float32
	// OriginalWidth is the original image width before preprocessing.
	OriginalWidth int
	// OriginalHeight is the original image height before preprocessing.
	OriginalHeight int
	// InputWidth and InputHeight are the model input size.
	InputWidth, InputHeight int
	// Region is the part of the original frame the model input covers, in
	// original pixel coordinates. Padding is not included.
	Region image.Rectangle
	// Content is the part of the model input covered by Region, in input
	// pixel coordinates. It is the full input unless letterboxed.
	Content image.Rectangle
	// Shape contains the tensor shape [1, C, H, W] or [1, H, W, C].
	Shape []int64
}

// Project maps a box in normalized model-input coordinates back onto the
// original frame, in pixels, clipped to the frame.
func (r *Result) Project(b images.Box) image.Rectangle {
	x := func(v float32) int {
		px := float64(v)*float64(r.InputWidth) - float64(r.Content.Min.X)
		return r.Region.Min.X + int(math.Round(px*float64(r.Region.Dx())/float64(r.Content.Dx())))
	}
	y := func(v float32) int {
		py := float64(v)*float64(r.InputHeight) - float64(r.Content.Min.Y)
		return r.Region.Min.Y + int(math.Round(py*float64(r.Region.Dy())/float64(r.Content.Dy())))
	}

	return image.Rect(x(b.X1), y(b.Y1), x(b.X2), y(b.Y2)).Intersect(
		image.Rect(0, 0, r.OriginalWidth, r.OriginalHeight))
}

// Preprocessor handles image preprocessing for a model.
//
// A Preprocessor is safe for concurrent use.
type Preprocessor struct {
	config *ModelConfig
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured Preprocessor instance.
//   - error: ErrInvalidInput if the configuration is unusable.
//
// Example Usage:
// ```go
//
//	p, err := preprocess.NewPreprocessor(preprocess.FaceMaskConfig(260, preprocess.ChannelOrderHWC))
//	if err != nil {
//		return err
//	}
//	result, err := p.Preprocess(frame)
//
// ```
func NewPreprocessor(config *ModelConfig) (*Preprocessor, error) {
	if config == nil {
		return nil, errors.Wrap(ErrInvalidInput, "config is nil")
	}
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid input size %dx%d", config.InputWidth, config.InputHeight)
	}

	cfg := *config
	if cfg.LetterboxColor == nil {
		cfg.LetterboxColor = color.Black
	}

	return &Preprocessor{config: &cfg}, nil
}

// Config returns the configuration of the preprocessor.
func (p *Preprocessor) Config() ModelConfig {
	return *p.config
}

// PreprocessImage decodes an encoded frame and preprocesses it.
func (p *Preprocessor) PreprocessImage(img *images.Image) (*Result, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "image data is empty")
	}

	decoded, _, err := images.Decode(img.Data)
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}

	return p.Preprocess(decoded)
}

// PreprocessEncoded preprocesses an encoded frame.
//
// With the center crop mode and a square input the crop and resize run in
// libvips, which shrinks on load and never decodes the full frame. Other
// modes decode the frame and use Preprocess.
//
// Arguments:
//   - data: JPEG, PNG or WebP bytes.
//
// Returns:
//   - *Result: The preprocessed tensor and the mapping back to the frame.
//   - error: ErrInvalidInput for empty data, or a decoding error.
func (p *Preprocessor) PreprocessEncoded(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "image data is empty")
	}
	if p.config.ResizeMode != ResizeCenterCrop || p.config.InputWidth != p.config.InputHeight {
		return p.PreprocessImage(&images.Image{Data: data})
	}

	header, _, err := images.DecodeConfig(data)
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}
	if header.Width <= 0 || header.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid image dimensions: %dx%d", header.Width, header.Height)
	}

	fitted, err := images.ResizeToImage(data, p.config.InputWidth, p.config.InputHeight)
	if err != nil {
		return nil, err
	}
	if b := fitted.Bounds(); b.Dx() != p.config.InputWidth || b.Dy() != p.config.InputHeight {
		fitted = p.scale(fitted, p.config.InputWidth, p.config.InputHeight)
	}

	return p.result(fitted, image.Rect(0, 0, header.Width, header.Height),
		images.CenterSquare(image.Rect(0, 0, header.Width, header.Height)),
		image.Rect(0, 0, p.config.InputWidth, p.config.InputHeight)), nil
}

// Preprocess performs all necessary preprocessing steps on a decoded frame.
//
// Arguments:
//   - img: The input frame.
//
// Returns:
//   - *Result: The preprocessed tensor and the mapping back to the frame.
//   - error: ErrInvalidInput for nil or empty frames.
func (p *Preprocessor) Preprocess(img image.Image) (*Result, error) {
	if img == nil {
		return nil, errors.Wrap(ErrInvalidInput, "image is nil")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	fitted, region, content := p.fit(img)
	return p.result(fitted, bounds, region, content), nil
}

// result converts an input-sized frame into a Result.
func (p *Preprocessor) result(fitted image.Image, bounds, region, content image.Rectangle) *Result {
	data := p.imageToTensor(fitted)
	p.normalize(data)

	var shape []int64
	if p.config.ChannelOrder == ChannelOrderCHW {
		shape = []int64{1, 3, int64(p.config.InputHeight), int64(p.config.InputWidth)}
	} else {
		shape = []int64{1, int64(p.config.InputHeight), int64(p.config.InputWidth), 3}
	}

	log.Debugf("preprocess: %s %dx%d -> %v, region %v", p.config.Name, bounds.Dx(), bounds.Dy(), shape, region)

	return &Result{
		Data:           data,
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
		InputWidth:     p.config.InputWidth,
		InputHeight:    p.config.InputHeight,
		Region:         region.Sub(bounds.Min),
		Content:        content,
		Shape:          shape,
	}
}

// fit brings img to the input size according to the resize mode.
//
// Returns:
//   - image.Image: The input-sized frame, origin at (0, 0).
//   - image.Rectangle: The source region used, in img's coordinates.
//   - image.Rectangle: The area of the output covered by that region.
func (p *Preprocessor) fit(img image.Image) (image.Image, image.Rectangle, image.Rectangle) {
	w, h := p.config.InputWidth, p.config.InputHeight
	full := image.Rect(0, 0, w, h)
	bounds := img.Bounds()

	switch p.config.ResizeMode {
	case ResizeStretch:
		return p.scale(img, w, h), bounds, full

	case ResizeLetterbox:
		scale := min(float64(w)/float64(bounds.Dx()), float64(h)/float64(bounds.Dy()))
		newW := max(1, int(float64(bounds.Dx())*scale))
		newH := max(1, int(float64(bounds.Dy())*scale))
		padLeft := (w - newW) / 2
		padTop := (h - newH) / 2
		content := image.Rect(padLeft, padTop, padLeft+newW, padTop+newH)

		letterboxed := image.NewRGBA(full)
		draw.Draw(letterboxed, full, &image.Uniform{C: p.config.LetterboxColor}, image.Point{}, draw.Src)
		draw.Draw(letterboxed, content, p.scale(img, newW, newH), image.Point{}, draw.Over)
		return letterboxed, bounds, content

	default:
		region := images.CenterSquare(bounds)
		cropped := images.CropSquare(img)
		return p.scale(cropped, w, h), region, full
	}
}

func (p *Preprocessor) scale(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, p.config.Interpolation)
}

// imageToTensor converts an input-sized image to a float32 tensor.
func (p *Preprocessor) imageToTensor(img image.Image) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	tensor := make([]float32, plane*3)

	idx := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			ch0, ch1, ch2 := float32(r>>8), float32(g>>8), float32(b>>8)
			if p.config.ColorMode == ColorModeBGR {
				ch0, ch2 = ch2, ch0
			}

			if p.config.ChannelOrder == ChannelOrderCHW {
				tensor[y*width+x] = ch0
				tensor[plane+y*width+x] = ch1
				tensor[2*plane+y*width+x] = ch2
			} else {
				tensor[idx] = ch0
				tensor[idx+1] = ch1
				tensor[idx+2] = ch2
				idx += 3
			}
		}
	}

	return tensor
}

// normalize applies normalization to the tensor in place.
func (p *Preprocessor) normalize(tensor []float32) {
	switch p.config.NormalizationType {
	case NormalizeZeroToOne:
		for i := range tensor {
			tensor[i] /= 255.0
		}
	case NormalizeMinusOneToOne:
		for i := range tensor {
			tensor[i] = (tensor[i] / 127.5) - 1.0
		}
	}
}

// FaceMaskConfig returns the preprocessing of the face mask detector: a
// centered square crop scaled to inputSize, RGB, values in [0, 1].
//
// Arguments:
//   - inputSize: The model input side, 260 for the published model.
//   - order: ChannelOrderHWC for TFLite, ChannelOrderCHW for most ONNX exports.
//
// Returns:
//   - *ModelConfig: The preprocessing configuration.
func FaceMaskConfig(inputSize int, order ChannelOrder) *ModelConfig {
	return &ModelConfig{
		Name:              "facemask",
		InputWidth:        inputSize,
		InputHeight:       inputSize,
		NormalizationType: NormalizeZeroToOne,
		ChannelOrder:      order,
		ColorMode:         ColorModeRGB,
		ResizeMode:        ResizeCenterCrop,
		Interpolation:     resize.Bilinear,
	}
}

// BatchPreprocess processes multiple frames in parallel.
//
// Arguments:
//   - frames: Slice of frames to preprocess.
//   - maxConcurrency: Maximum number of frames to process concurrently.
//
// Returns:
//   - []*Result: One result per frame, in order.
//   - error: The first failure, if any.
func (p *Preprocessor) BatchPreprocess(frames []image.Image, maxConcurrency int) ([]*Result, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]*Result, len(frames))
	errs := make([]error, len(frames))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, frame := range frames {
		wg.Add(1)
		go func(idx int, frame image.Image) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := p.Preprocess(frame)
			if err != nil {
				errs[idx] = fmt.Errorf("failed to preprocess image %d: %w", idx, err)
			} else {
				results[idx] = result
			}
		}(i, frame)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}
