package pics

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/gen2brain/avif"
	"github.com/google/uuid"
)

// EncodeParams controls one encode.
type EncodeParams struct {
	// Quality is in [0,100], higher is better.
	Quality int
	// Speed is in [0,10], higher is faster with marginally larger output.
	Speed int
}

// Encoder encodes a raster to the canonical codec.
type Encoder interface {
	Name() string
	Encode(img image.Image, params EncodeParams) ([]byte, error)
}

// EncoderPreference selects an encoder variant at startup.
type EncoderPreference string

const (
	EncoderAuto    EncoderPreference = "auto"
	EncoderBuiltin EncoderPreference = "builtin"
	EncoderAvifenc EncoderPreference = "avifenc"
)

const avifencBinary = "avifenc"

// ParseEncoderPreference converts a user supplied encoder name.
func ParseEncoderPreference(s string) (EncoderPreference, error) {
	switch EncoderPreference(s) {
	case EncoderAuto, EncoderBuiltin, EncoderAvifenc:
		return EncoderPreference(s), nil
	case "":
		return EncoderAuto, nil
	}
	return "", fmt.Errorf("unknown encoder %q (expected auto, builtin or avifenc)", s)
}

// ProbeEncoder picks the encoder once. With EncoderAuto the avifenc command
// line encoder wins when it is on PATH, the embedded one otherwise.
func ProbeEncoder(pref EncoderPreference) (Encoder, error) {
	switch pref {
	case EncoderBuiltin:
		return NewBuiltinEncoder(), nil
	case EncoderAvifenc:
		path, err := exec.LookPath(avifencBinary)
		if err != nil {
			return nil, fmt.Errorf("avifenc not found in PATH: %w", err)
		}
		return NewAvifencEncoder(path), nil
	}

	if path, err := exec.LookPath(avifencBinary); err == nil {
		logger.Debug("Encoder probe found avifenc", "path", path)
		return NewAvifencEncoder(path), nil
	}
	logger.Debug("Encoder probe falling back to builtin encoder")
	return NewBuiltinEncoder(), nil
}

// hasAlpha reports whether any pixel of img is not fully opaque.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// normalizePixels converts palette, grayscale and CMYK rasters to 8-bit RGB(A).
// Alpha is carried over only when the source actually uses it.
func normalizePixels(img image.Image) (image.Image, bool) {
	alpha := hasAlpha(img)
	switch img.(type) {
	case *image.RGBA:
		return img, alpha
	case *image.NRGBA:
		if alpha {
			return img, alpha
		}
	}

	b := img.Bounds()
	if alpha {
		dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, true
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, false
}

// builtinEncoder runs libavif compiled to WebAssembly inside the process.
type builtinEncoder struct{}

// NewBuiltinEncoder creates the embedded encoder.
func NewBuiltinEncoder() Encoder {
	return &builtinEncoder{}
}

func (e *builtinEncoder) Name() string {
	return "builtin"
}

func (e *builtinEncoder) Encode(img image.Image, params EncodeParams) ([]byte, error) {
	src, alpha := normalizePixels(img)
	opts := avif.Options{
		Quality:      params.Quality,
		QualityAlpha: params.Quality,
		Speed:        params.Speed,
	}
	if !alpha {
		opts.QualityAlpha = 100
	}

	var buf bytes.Buffer
	if err := avif.Encode(&buf, src, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// avifencEncoder shells out to the libavif command line encoder. The raster
// is handed over as a lossless PNG in the system temp directory.
type avifencEncoder struct {
	path string
}

// NewAvifencEncoder creates an encoder that runs the avifenc binary at path.
func NewAvifencEncoder(path string) Encoder {
	return &avifencEncoder{path: path}
}

func (e *avifencEncoder) Name() string {
	return "avifenc"
}

func (e *avifencEncoder) Encode(img image.Image, params EncodeParams) ([]byte, error) {
	src, _ := normalizePixels(img)

	scratch, err := os.MkdirTemp("", "pixcanon-enc-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrEncode, err)
	}
	defer os.RemoveAll(scratch)

	id := uuid.NewString()
	input := filepath.Join(scratch, id+".png")
	output := filepath.Join(scratch, id+TargetExt)

	f, err := os.Create(input)
	if err != nil {
		return nil, fmt.Errorf("%w: scratch input: %v", ErrEncode, err)
	}
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(f, src); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: scratch input: %v", ErrEncode, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: scratch input: %v", ErrEncode, err)
	}

	// Tasks are never preempted once running, so no context is attached.
	cmd := exec.Command(e.path,
		"-q", strconv.Itoa(params.Quality),
		"-s", strconv.Itoa(params.Speed),
		input, output)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%w: avifenc failed: %v; output: %s", ErrEncode, err, string(out))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("%w: reading avifenc output: %v", ErrEncode, err)
	}
	return data, nil
}
