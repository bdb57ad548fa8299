package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts PCM chunks from one format to another. It logs a
// warning on the first format mismatch and drops chunks that are not aligned
// to whole samples. Create one per stream; not designed for shared use
// across goroutines.
type Converter struct {
	From, To Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts one chunk. If the formats already match the chunk is
// returned unchanged. Conversion order: resample first, then channel convert.
func (c *Converter) Convert(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping chunk",
				"bytes", len(pcm),
				"format", c.From.String(),
			)
		})
		return nil
	}

	if c.From == c.To {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting", "from", c.From.String(), "to", c.To.String())
	})

	if c.From.SampleRate != c.To.SampleRate {
		if c.From.Channels == 1 {
			pcm = ResampleMono16(pcm, c.From.SampleRate, c.To.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, c.From.SampleRate, c.To.SampleRate)
		}
	}

	switch {
	case c.From.Channels == 1 && c.To.Channels == 2:
		pcm = MonoToStereo(pcm)
	case c.From.Channels == 2 && c.To.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return pcm
}

// ConvertStream wraps in with a conversion goroutine. The returned channel is
// closed when in closes. Chunks that convert to nothing are dropped.
func ConvertStream(in <-chan []byte, from, to Format) <-chan []byte {
	if from == to {
		return in
	}
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := Converter{From: from, To: to}
		for chunk := range in {
			converted := conv.Convert(chunk)
			if len(converted) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		copy(out[j:j+2], pcm[i:i+2])
		copy(out[j+2:j+4], pcm[i:i+2])
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample16(pcm, srcRate, dstRate, 2)
}

func resample16(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameSize := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameSize {
		return pcm
	}
	srcFrames := len(pcm) / frameSize
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameSize)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(frame, ch int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[frame*frameSize+ch*2:])))
	}

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := min(srcIdx+1, srcFrames-1)

		for ch := range channels {
			v := sample(srcIdx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[i*frameSize+ch*2:], uint16(int16(v)))
		}
	}
	return out
}

func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
