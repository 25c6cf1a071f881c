package embedding

import "errors"

var (
	// ErrCircuitOpen is returned without calling the remote service while the
	// breaker is open or a half-open probe is already in flight.
	ErrCircuitOpen = errors.New("embedding circuit open")

	// ErrInvalidMaxAttempts is returned when retry is asked for fewer than one attempt.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrEmptyEmbedding is returned when the service answered with no vector.
	ErrEmptyEmbedding = errors.New("empty embedding")
)
