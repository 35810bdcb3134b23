package retry

// Error lets operations label an error as permanent; the retry loop stops
// immediately when Temporary reports false.
type Error interface {
	Temporary() bool
	error
}

type abortedError struct {
	error
}

func (e *abortedError) Temporary() bool {
	return false
}

func (e *abortedError) Unwrap() error {
	return e.error
}

// Abort marks an error as permanent so the retry loop returns it without
// further attempts.
func Abort(err error) error {
	return &abortedError{err}
}
