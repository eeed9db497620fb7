package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the client cannot be built from config.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrInvalidResponse is returned when the API answers with nothing usable.
	ErrInvalidResponse = errors.New("invalid gemini response")

	// ErrContentBlocked is returned when safety filters stop the response.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrEmptyInput is returned when there is nothing to send to the model.
	ErrEmptyInput = errors.New("empty input")
)

// ErrMediaTooLarge is returned when a file exceeds the inline request limit.
var ErrMediaTooLarge = errors.New("media too large for inline upload")
