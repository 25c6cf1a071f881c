package ingestion

import "errors"

var (
	// ErrPodRepositoryRequired is returned when a pod repository is not provided.
	ErrPodRepositoryRequired = errors.New("pod repository required")

	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrPodIndexRepositoryRequired is returned when a pod index repository is not provided.
	ErrPodIndexRepositoryRequired = errors.New("pod index repository required")

	// ErrDeadLetterRepositoryRequired is returned when a dead letter repository is not provided.
	ErrDeadLetterRepositoryRequired = errors.New("dead letter repository required")

	// ErrEmbedderRequired is returned when an embedding client is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrBrokerRequired is returned when a broker is not provided.
	ErrBrokerRequired = errors.New("broker required")

	// ErrPipelineRunning is returned by Start on a running pipeline.
	ErrPipelineRunning = errors.New("pipeline already running")
)
