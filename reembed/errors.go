package reembed

import "errors"

var (
	// ErrModelVersionRequired is returned when no target model version is given.
	ErrModelVersionRequired = errors.New("target model version required")
)
