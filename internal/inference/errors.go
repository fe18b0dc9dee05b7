package inference

import "errors"

// BadImageError means the uploaded bytes could not be decoded as an image.
type BadImageError struct{ Err error }

func (e BadImageError) Error() string { return "bad image: " + e.Err.Error() }

func (e BadImageError) Unwrap() error { return e.Err }

// IsBadImage reports whether err is a BadImageError.
func IsBadImage(err error) bool {
	var be BadImageError
	return errors.As(err, &be)
}

// NotReadyError means no checkpoint is loaded yet.
type NotReadyError struct{ Reason string }

func (e NotReadyError) Error() string {
	if e.Reason == "" {
		return "model not loaded"
	}
	return "model not loaded: " + e.Reason
}

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var ne NotReadyError
	return errors.As(err, &ne)
}
