package pics

import (
	"fmt"
	"image"

	"github.com/acm19/pixcanon/internal/logger"
)

// CompressOutcome is the result of a size bounded quality search.
type CompressOutcome struct {
	// Quality used for Data.
	Quality int
	// Data is the encoded artifact. When Satisfied is false it is the
	// smallest artifact produced by any probe.
	Data []byte
	// Satisfied is true when len(Data) <= ceiling.
	Satisfied bool
	// Probes is the number of encodes performed.
	Probes int
}

// SizeBoundedCompressor searches for the highest quality whose encoding fits
// a byte ceiling.
type SizeBoundedCompressor struct {
	encoder Encoder
}

// NewSizeBoundedCompressor creates a compressor that probes with encoder.
func NewSizeBoundedCompressor(encoder Encoder) *SizeBoundedCompressor {
	return &SizeBoundedCompressor{encoder: encoder}
}

// Compress binary-searches [qMin,qMax] for the maximal quality q with
// len(encode(img,q)) <= ceiling. Probe buffers are private to the call and
// only the winning one is kept.
//
// A probe the encoder rejects is treated like an oversized one. When nothing
// fits the returned error wraps ErrSizeBoundUnattainable and the outcome still
// carries the smallest artifact seen; when every probe was rejected the error
// wraps ErrEncode and the outcome is empty.
func (c *SizeBoundedCompressor) Compress(img image.Image, ceiling int64, qMin, qMax, speed int) (CompressOutcome, error) {
	if qMin > qMax {
		return CompressOutcome{}, fmt.Errorf("invalid quality bounds [%d,%d]", qMin, qMax)
	}

	var (
		out       CompressOutcome
		smallest  []byte
		smallestQ int
		lastErr   error
	)
	best := -1
	lo, hi := qMin, qMax
	for lo <= hi {
		mid := lo + (hi-lo)/2
		data, err := c.encoder.Encode(img, EncodeParams{Quality: mid, Speed: speed})
		out.Probes++
		if err != nil {
			logger.Debug("Compression probe failed", "quality", mid, "error", err)
			lastErr = err
			hi = mid - 1
			continue
		}
		size := int64(len(data))
		if smallest == nil || size < int64(len(smallest)) {
			smallest, smallestQ = data, mid
		}
		if size <= ceiling {
			best = mid
			out.Data = data
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if best >= 0 {
		out.Quality = best
		out.Satisfied = true
		return out, nil
	}
	if smallest == nil {
		return out, fmt.Errorf("%w: every probe in [%d,%d] failed: %v", ErrEncode, qMin, qMax, lastErr)
	}
	out.Quality = smallestQ
	out.Data = smallest
	return out, fmt.Errorf("%w: %d bytes at quality %d exceeds %d", ErrSizeBoundUnattainable, len(smallest), smallestQ, ceiling)
}

// CompressWithRetry runs the search over the configured quality bounds and,
// when that fails, once more with the upper bound narrowed to
// cfg.RetryMaxQuality. The better of the two outcomes is returned.
func (c *SizeBoundedCompressor) CompressWithRetry(img image.Image, ceiling int64, cfg Config) (CompressOutcome, error) {
	speed := cfg.EffectiveSpeed()
	first, err := c.Compress(img, ceiling, cfg.MinQuality, cfg.MaxQuality, speed)
	if err == nil {
		return first, nil
	}
	retryMax := min(cfg.MaxQuality, cfg.RetryMaxQuality)
	if cfg.RetryMaxQuality <= 0 || retryMax < cfg.MinQuality {
		return first, err
	}

	logger.Debug("Compression missed ceiling, retrying with narrowed quality", "ceiling", ceiling, "max_quality", retryMax)
	second, retryErr := c.Compress(img, ceiling, cfg.MinQuality, retryMax, speed)
	second.Probes += first.Probes
	if retryErr == nil {
		return second, nil
	}
	if first.Data == nil || (second.Data != nil && len(second.Data) < len(first.Data)) {
		return second, retryErr
	}
	first.Probes = second.Probes
	return first, err
}
