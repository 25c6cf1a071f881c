// Package ingestion runs the asynchronous pod indexing pipeline.
//
// The flow is:
//   - Dispatcher creates a PENDING job and publishes a job-start message
//   - FanoutProcessor claims the job, streams the pod's items to the item
//     topic, stores the plain-text pod index and completes the job
//   - ItemProcessor embeds each item and upserts its chunk, routing failures
//     to the dead-letter topic
//   - DeadLetterArchiver persists dead letters for listing and replay
//
// Pipeline wires the processors to a queue.Broker. Errors while handling a
// message are logged and never stop a worker.
package ingestion
