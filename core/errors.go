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

import "errors"

// Domain validation errors
var (
	// ErrInvalidPod indicates a Pod failed validation.
	ErrInvalidPod = errors.New("invalid pod")

	// ErrInvalidDataItem indicates a DataItem failed validation.
	ErrInvalidDataItem = errors.New("invalid data item")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")

	// ErrEmptyContent indicates the Content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyName indicates the pod Name field is empty.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrEmptyOwner indicates the pod OwnerUserID field is empty.
	ErrEmptyOwner = errors.New("owner cannot be empty")

	// ErrInvalidID indicates a caller-supplied identifier contains the chunk ID separator.
	ErrInvalidID = errors.New("identifier cannot contain ':'")

	// ErrCorruptRecord indicates a stored record could not be decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrInvalidTransition indicates a job status change that the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Indexing pipeline errors
var (
	// ErrPodNotFound indicates the referenced pod does not exist.
	ErrPodNotFound = errors.New("pod not found")

	// ErrJobNotFound indicates the referenced indexing job does not exist.
	ErrJobNotFound = errors.New("indexing job not found")

	// ErrDuplicateDelivery indicates a job message was already claimed by another delivery.
	ErrDuplicateDelivery = errors.New("duplicate delivery")

	// ErrMalformedMessage indicates a queue payload could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrEmbeddingUnavailable indicates no embedding could be produced.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrProcessingTimeout indicates a remote call exceeded its deadline.
	ErrProcessingTimeout = errors.New("processing timeout")
)
