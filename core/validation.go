// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"strings"
)

// ParseContentRef validates a ref and returns its hex digest.
//
// A valid ref is "sha256:" followed by exactly 64 lowercase hex digits.
func ParseContentRef(ref ContentRef) (string, error) {
	s := string(ref)
	if !strings.HasPrefix(s, RefPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	hash := s[len(RefPrefix):]
	if len(hash) != 64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, s)
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidReference, s)
		}
	}
	return hash, nil
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusPaused, JobStatusCompleted, JobStatusFailed},
	JobStatusPaused:     {JobStatusProcessing, JobStatusFailed},
}

// CanTransition reports whether a job may move from one status to another.
// Completed and failed are terminal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when CanTransition is false.
func ValidateTransition(from, to JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateStatus checks that s is one of the known statuses.
func ValidateStatus(s JobStatus) error {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusPaused, JobStatusCompleted, JobStatusFailed:
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
}
