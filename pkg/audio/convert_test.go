package audio_test

import (
	"context"
	"encoding/binary"
	"slices"
	"testing"
	"time"

	"github.com/lugia19/GPT-Speaker/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, -300})))
	want := []int16{100, 100, 200, 200, -300, -300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	t.Parallel()
	if out := audio.MonoToStereo([]byte{1, 2, 3}); len(out) != 4 {
		t.Errorf("expected trailing byte ignored, got len %d", len(out))
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{0, 100, 200, 300})

	if out := audio.ResampleMono16(pcm, 16000, 16000); len(out) != len(pcm) {
		t.Errorf("same rate: len %d, want %d", len(out), len(pcm))
	}
	up := bytesToSamples(audio.ResampleMono16(pcm, 16000, 32000))
	if len(up) != 8 {
		t.Fatalf("upsample: %d samples, want 8", len(up))
	}
	if up[1] != 50 {
		t.Errorf("upsample: interpolated sample = %d, want 50", up[1])
	}
	if down := audio.ResampleMono16(pcm, 32000, 16000); len(down) != 4 {
		t.Errorf("downsample: len %d, want 4", len(down))
	}
	if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
		t.Errorf("zero rate: expected input unchanged")
	}
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{10, -10, 20, -20, 30, -30, 40, -40})
	out := bytesToSamples(audio.ResampleStereo16(pcm, 48000, 24000))
	want := []int16{10, -10, 30, -30}
	if !slices.Equal(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestConverter(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{100, 200})

	same := audio.Converter{From: audio.Mono(44100), To: audio.Mono(44100)}
	if got := same.Convert(pcm); len(got) != len(pcm) {
		t.Errorf("no-op conversion changed length to %d", len(got))
	}

	stereo := audio.Converter{From: audio.Mono(44100), To: audio.Format{SampleRate: 44100, Channels: 2}}
	if got := bytesToSamples(stereo.Convert(pcm)); !slices.Equal(got, []int16{100, 100, 200, 200}) {
		t.Errorf("mono to stereo = %v", got)
	}

	full := audio.Converter{From: audio.Mono(22050), To: audio.Format{SampleRate: 44100, Channels: 2}}
	if got := full.Convert(pcm); len(got) != 4*4 {
		t.Errorf("full conversion len = %d, want 16", len(got))
	}

	if got := same.Convert([]byte{1, 2, 3}); got != nil {
		t.Errorf("odd byte count should be dropped, got %v", got)
	}
}

func TestConvertStream(t *testing.T) {
	t.Parallel()
	in := make(chan []byte, 3)
	out := audio.ConvertStream(in, audio.Mono(48000), audio.Format{SampleRate: 48000, Channels: 2})

	in <- samplesToBytes([]int16{100, 200})
	in <- []byte{1, 2, 3}
	in <- samplesToBytes([]int16{500})
	close(in)

	var results [][]byte
	for chunk := range out {
		results = append(results, chunk)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 chunks (odd chunk dropped), got %d", len(results))
	}
	if got := bytesToSamples(results[1]); !slices.Equal(got, []int16{500, 500}) {
		t.Errorf("second chunk = %v", got)
	}
}

func TestConvertStream_SameFormatPassesThrough(t *testing.T) {
	t.Parallel()
	in := make(chan []byte)
	if out := audio.ConvertStream(in, audio.Mono(44100), audio.Mono(44100)); out != (<-chan []byte)(in) {
		t.Error("expected the input channel to be returned unchanged")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.Mono(44100)
	if f.String() != "44100Hz mono" {
		t.Errorf("String = %q", f.String())
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := (audio.Format{SampleRate: 44100, Channels: 3}).Validate(); err == nil {
		t.Error("expected error for 3 channels")
	}
	if d := f.Duration(88200); d != time.Second {
		t.Errorf("Duration = %v, want 1s", d)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	close(ch)
	audio.Drain(ch)
	if _, ok := <-ch; ok {
		t.Error("expected channel to be drained")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	pcm := make(chan []byte, 2)
	pcm <- make([]byte, 882) // 10ms at 44.1kHz mono
	pcm <- make([]byte, 882)
	close(pcm)

	d := &audio.Discard{Realtime: true}
	start := time.Now()
	if err := d.Play(context.Background(), audio.Mono(44100), pcm); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("realtime Play returned after %v, want about 20ms", elapsed)
	}
	if d.BytesPlayed() != 1764 {
		t.Errorf("BytesPlayed = %d, want 1764", d.BytesPlayed())
	}
}

func TestDiscard_Cancelled(t *testing.T) {
	t.Parallel()
	pcm := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &audio.Discard{}
	if err := d.Play(ctx, audio.Mono(44100), pcm); err == nil {
		t.Fatal("expected context error")
	}
	close(pcm)
}
