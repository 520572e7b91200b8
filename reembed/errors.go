package reembed

import "errors"

var (
	// ErrJobBusy is returned when the job is still being written by a processor.
	ErrJobBusy = errors.New("job is still processing")
)
