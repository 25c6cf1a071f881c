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
	"time"
)

// ValidatePod validates a Pod according to domain rules.
//
// Validation rules:
//   - Name must not be empty
//   - OwnerUserID must not be empty
//   - ID, when supplied, must not contain ':'
//
// An empty ID and CreatedAt are assigned by storage.
func ValidatePod(pod *Pod) error {
	if pod == nil {
		return fmt.Errorf("%w: pod is nil", ErrInvalidPod)
	}

	if pod.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPod, ErrEmptyName)
	}

	if pod.OwnerUserID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPod, ErrEmptyOwner)
	}

	if strings.Contains(pod.ID, ":") {
		return fmt.Errorf("%w: %w", ErrInvalidPod, ErrInvalidID)
	}

	return nil
}

// ValidateDataItem validates a DataItem according to domain rules.
//
// Validation rules:
//   - Content must not be empty
//   - CreatedAt must not be in the future
func ValidateDataItem(item *DataItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidDataItem)
	}

	if item.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDataItem, ErrEmptyContent)
	}

	if !IsValidTimestamp(item.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidDataItem, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateJobTransition checks that a job may move from one status to another.
//
// Allowed transitions:
//   - PENDING -> RUNNING
//   - PENDING -> FAILED
//   - RUNNING -> COMPLETED
//   - RUNNING -> FAILED
func ValidateJobTransition(from, to JobStatus) error {
	switch {
	case from == JobStatusPending && (to == JobStatusRunning || to == JobStatusFailed):
		return nil
	case from == JobStatusRunning && to.IsTerminal():
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
