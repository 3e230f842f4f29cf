package chunk

import "errors"

var (
	// ErrTextTooShort indicates the narrative is below the minimum length
	// worth embedding. Joined with core.ErrIneligible by the generator.
	ErrTextTooShort = errors.New("narrative text too short")

	// ErrDimensionMismatch indicates the provider returned a vector whose
	// length differs from the configured dimension. Joined with
	// core.ErrPermanent by the generator: retrying cannot fix a
	// misconfigured model.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrBatchMismatch indicates the provider returned a different number of
	// vectors than texts submitted.
	ErrBatchMismatch = errors.New("embedding batch size mismatch")
)
