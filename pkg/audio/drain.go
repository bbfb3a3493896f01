package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// keep a producer goroutine from leaking when its output is no longer wanted,
// e.g. a TTS audio channel after the output stream went away.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
