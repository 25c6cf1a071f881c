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


package badger

import (
	"errors"

	"github.com/poiesic/podhub/storage"
)

// Repositories bundles every repository sharing one backend.
type Repositories struct {
	Backend     *Backend
	Pods        storage.PodRepository
	Jobs        storage.JobRepository
	Vectors     storage.VectorStore
	PodIndexes  storage.PodIndexRepository
	DeadLetters storage.DeadLetterRepository
}

// OpenRepositories opens a backend at path and creates all repositories on it.
// Caller must Close the result when done.
func OpenRepositories(path string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}

	pods, err := newPodRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend:     backend,
		Pods:        pods,
		Jobs:        NewJobRepository(backend),
		Vectors:     NewVectorRepository(backend),
		PodIndexes:  NewPodIndexRepository(backend),
		DeadLetters: NewDeadLetterRepository(backend),
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories() (*Repositories, error) {
	return OpenRepositories("", true)
}

// Close closes every repository and then the backend.
func (r *Repositories) Close() error {
	return errors.Join(
		r.Pods.Close(),
		r.Jobs.Close(),
		r.Vectors.Close(),
		r.PodIndexes.Close(),
		r.DeadLetters.Close(),
		r.Backend.Close(),
	)
}
