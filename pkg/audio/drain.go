package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine when its stream is no longer
// needed (e.g., the PCM of a clip that failed mid-playback).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
