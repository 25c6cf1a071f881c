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


package storage

import (
	"fmt"

	"github.com/poiesic/podhub/core"
)

// serializer is the shape shared by the core MUS serializers.
type serializer[T any] interface {
	Marshal(v T, bs []byte) (n int)
	Unmarshal(bs []byte) (v T, n int, err error)
	Size(v T) (size int)
}

func marshal[T any](s serializer[T], v *T) []byte {
	buf := make([]byte, s.Size(*v))
	s.Marshal(*v, buf)
	return buf
}

func unmarshal[T any](s serializer[T], data []byte) (*T, error) {
	v, _, err := s.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &v, nil
}

// MarshalPod serializes a Pod to bytes.
func MarshalPod(pod *core.Pod) []byte {
	return marshal(core.PodMUS, pod)
}

// UnmarshalPod deserializes a Pod from bytes.
func UnmarshalPod(data []byte) (*core.Pod, error) {
	return unmarshal(core.PodMUS, data)
}

// MarshalDataItem serializes a DataItem to bytes.
func MarshalDataItem(item *core.DataItem) []byte {
	return marshal(core.DataItemMUS, item)
}

// UnmarshalDataItem deserializes a DataItem from bytes.
func UnmarshalDataItem(data []byte) (*core.DataItem, error) {
	return unmarshal(core.DataItemMUS, data)
}

// MarshalJob serializes an IndexingJob to bytes.
func MarshalJob(job *core.IndexingJob) []byte {
	return marshal(core.IndexingJobMUS, job)
}

// UnmarshalJob deserializes an IndexingJob from bytes.
func UnmarshalJob(data []byte) (*core.IndexingJob, error) {
	return unmarshal(core.IndexingJobMUS, data)
}

// MarshalChunk serializes a VectorChunk to bytes.
func MarshalChunk(chunk *core.VectorChunk) []byte {
	return marshal(core.VectorChunkMUS, chunk)
}

// UnmarshalChunk deserializes a VectorChunk from bytes.
func UnmarshalChunk(data []byte) (*core.VectorChunk, error) {
	return unmarshal(core.VectorChunkMUS, data)
}

// MarshalPodIndex serializes a PodIndex to bytes.
func MarshalPodIndex(index *core.PodIndex) []byte {
	return marshal(core.PodIndexMUS, index)
}

// UnmarshalPodIndex deserializes a PodIndex from bytes.
func UnmarshalPodIndex(data []byte) (*core.PodIndex, error) {
	return unmarshal(core.PodIndexMUS, data)
}

// MarshalDeadLetter serializes a DeadLetter to bytes.
func MarshalDeadLetter(letter *core.DeadLetter) []byte {
	return marshal(core.DeadLetterMUS, letter)
}

// UnmarshalDeadLetter deserializes a DeadLetter from bytes.
func UnmarshalDeadLetter(data []byte) (*core.DeadLetter, error) {
	return unmarshal(core.DeadLetterMUS, data)
}
