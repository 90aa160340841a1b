package audio

// Drain discards values from ch until it is closed, so that the producer of
// an abandoned stream can finish.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
