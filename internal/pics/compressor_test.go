package pics

import (
	"errors"
	"image"
	"math/rand/v2"
	"testing"
)

// sizeEncoder returns len(sizes[q]) zero bytes, or err for qualities in fail.
type sizeEncoder struct {
	sizes  func(q int) int
	fail   map[int]bool
	probes []int
}

func (e *sizeEncoder) Name() string {
	return "size"
}

func (e *sizeEncoder) Encode(_ image.Image, p EncodeParams) ([]byte, error) {
	e.probes = append(e.probes, p.Quality)
	if e.fail[p.Quality] {
		return nil, errors.New("rejected")
	}
	return make([]byte, e.sizes(p.Quality)), nil
}

func bruteForceMax(sizes func(int) int, ceiling int64, qMin, qMax int) int {
	best := -1
	for q := qMin; q <= qMax; q++ {
		if int64(sizes(q)) <= ceiling {
			best = q
		}
	}
	return best
}

func TestCompress_FindsMaximalQuality(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	linear := func(q int) int { return 1000 + q*100 }

	tests := []struct {
		name     string
		ceiling  int64
		expected int
	}{
		{"exact boundary", 1000 + 50*100, 50},
		{"between steps", 1000 + 50*100 + 99, 50},
		{"everything fits", 1 << 20, 85},
		{"only min fits", 1000 + 20*100, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := &sizeEncoder{sizes: linear}
			out, err := NewSizeBoundedCompressor(enc).Compress(img, tt.ceiling, 20, 85, 4)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if !out.Satisfied || out.Quality != tt.expected {
				t.Errorf("Expected quality %d, got %d (satisfied=%v)", tt.expected, out.Quality, out.Satisfied)
			}
			if int64(len(out.Data)) > tt.ceiling {
				t.Errorf("Returned %d bytes over ceiling %d", len(out.Data), tt.ceiling)
			}
			if len(out.Data) != linear(out.Quality) {
				t.Errorf("Data does not belong to quality %d", out.Quality)
			}
			if out.Probes != len(enc.probes) || out.Probes > 7 {
				t.Errorf("Unexpected probe count %d (encoder saw %d)", out.Probes, len(enc.probes))
			}
		})
	}
}

func TestCompress_MatchesBruteForceOnMonotoneEncoders(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 200 {
		// random non-decreasing step function over [0,100]
		steps := make([]int, 101)
		size := rng.IntN(500)
		for q := range steps {
			size += rng.IntN(3) * rng.IntN(200)
			steps[q] = size
		}
		sizes := func(q int) int { return steps[q] }
		qMin := rng.IntN(50)
		qMax := qMin + rng.IntN(51)
		ceiling := int64(rng.IntN(steps[100] + 100))

		out, err := NewSizeBoundedCompressor(&sizeEncoder{sizes: sizes}).Compress(img, ceiling, qMin, qMax, 4)
		want := bruteForceMax(sizes, ceiling, qMin, qMax)

		if want < 0 {
			if !errors.Is(err, ErrSizeBoundUnattainable) {
				t.Fatalf("case %d: expected ErrSizeBoundUnattainable, got %v", i, err)
			}
			if out.Satisfied || out.Data == nil {
				t.Fatalf("case %d: expected unsatisfied best effort output", i)
			}
			if len(out.Data) != steps[qMin] {
				t.Fatalf("case %d: expected smallest output at qMin, got quality %d", i, out.Quality)
			}
			continue
		}
		if err != nil {
			t.Fatalf("case %d: expected success, got %v", i, err)
		}
		if out.Quality != want {
			t.Fatalf("case %d: expected quality %d, got %d", i, want, out.Quality)
		}
	}
}

func TestCompress_FailsOnlyWhenMinExceedsCeiling(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	enc := &sizeEncoder{sizes: func(q int) int { return 5000 + q }}

	out, err := NewSizeBoundedCompressor(enc).Compress(img, 4000, 20, 85, 4)
	if !errors.Is(err, ErrSizeBoundUnattainable) {
		t.Fatalf("Expected ErrSizeBoundUnattainable, got %v", err)
	}
	if out.Quality != 20 || len(out.Data) != 5020 {
		t.Errorf("Expected best effort at quality 20, got %d with %d bytes", out.Quality, len(out.Data))
	}
	if enc.probes[len(enc.probes)-1] != 20 {
		t.Errorf("Expected the last probe at qMin, got %d", enc.probes[len(enc.probes)-1])
	}
}

func TestCompress_EncoderErrors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	t.Run("rejected probes count as oversized", func(t *testing.T) {
		fail := map[int]bool{}
		for q := 53; q <= 85; q++ {
			fail[q] = true
		}
		enc := &sizeEncoder{sizes: func(q int) int { return q }, fail: fail}
		out, err := NewSizeBoundedCompressor(enc).Compress(img, 1000, 20, 85, 4)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if out.Quality != 52 {
			t.Errorf("Expected quality 52, got %d", out.Quality)
		}
	})

	t.Run("all probes rejected", func(t *testing.T) {
		fail := map[int]bool{}
		for q := 0; q <= 100; q++ {
			fail[q] = true
		}
		enc := &sizeEncoder{sizes: func(q int) int { return q }, fail: fail}
		out, err := NewSizeBoundedCompressor(enc).Compress(img, 1000, 20, 85, 4)
		if !errors.Is(err, ErrEncode) {
			t.Fatalf("Expected ErrEncode, got %v", err)
		}
		if out.Data != nil {
			t.Error("Expected no data")
		}
	})

	t.Run("inverted bounds", func(t *testing.T) {
		enc := &sizeEncoder{sizes: func(q int) int { return q }}
		if _, err := NewSizeBoundedCompressor(enc).Compress(img, 1000, 50, 40, 4); err == nil {
			t.Error("Expected error for inverted bounds")
		}
	})
}

func TestCompressWithRetry(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	t.Run("second pass uses narrowed upper bound", func(t *testing.T) {
		// non-monotone: the first search over [20,85] walks past the only
		// fitting region, which the narrowed search finds.
		sizes := func(q int) int {
			if q >= 28 && q <= 33 {
				return 100
			}
			return 10_000
		}
		cfg := DefaultConfig()
		cfg.RetryMaxQuality = 40
		enc := &sizeEncoder{sizes: sizes}

		out, err := NewSizeBoundedCompressor(enc).CompressWithRetry(img, 1000, cfg)
		if err != nil {
			t.Fatalf("Expected retry to succeed, got %v", err)
		}
		if out.Quality != 33 {
			t.Errorf("Expected quality 33, got %d", out.Quality)
		}
		for _, q := range enc.probes[len(enc.probes)-3:] {
			if q > 40 {
				t.Errorf("Second pass probed %d above the narrowed bound", q)
			}
		}
		if out.Probes != len(enc.probes) {
			t.Errorf("Expected %d probes, got %d", len(enc.probes), out.Probes)
		}
	})

	t.Run("retry disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RetryMaxQuality = 0
		enc := &sizeEncoder{sizes: func(q int) int { return 10_000 }}
		_, err := NewSizeBoundedCompressor(enc).CompressWithRetry(img, 1000, cfg)
		if !errors.Is(err, ErrSizeBoundUnattainable) {
			t.Fatalf("Expected ErrSizeBoundUnattainable, got %v", err)
		}
		if len(enc.probes) != 6 {
			t.Errorf("Expected a single pass of 6 probes, got %d", len(enc.probes))
		}
	})

	t.Run("no success returns smallest best effort", func(t *testing.T) {
		cfg := DefaultConfig()
		enc := &sizeEncoder{sizes: func(q int) int { return 5000 + q }}
		out, err := NewSizeBoundedCompressor(enc).CompressWithRetry(img, 1000, cfg)
		if !errors.Is(err, ErrSizeBoundUnattainable) {
			t.Fatalf("Expected ErrSizeBoundUnattainable, got %v", err)
		}
		if len(out.Data) != 5000+cfg.MinQuality {
			t.Errorf("Expected smallest output, got %d bytes", len(out.Data))
		}
	})
}
