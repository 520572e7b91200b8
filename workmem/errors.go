package workmem

import "errors"

var (
	// ErrUnknownFormat indicates an export format other than json, jsonl or csv.
	ErrUnknownFormat = errors.New("unknown export format")
)
