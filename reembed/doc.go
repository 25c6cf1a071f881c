// Package reembed migrates the stored chunks of a pod to a new embedding model.
// It re-embeds chunk content in batches with retry and exponential backoff,
// normalizes the vectors, stamps the new model version and reports progress.
package reembed
