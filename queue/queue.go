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


// Package queue defines the partitioned message broker abstraction used by
// the indexing pipeline.
//
// A topic is split into a fixed number of partitions. Messages with the same
// key land on the same partition and are delivered one at a time in publish
// order. Delivery is at-least-once: a message that is not acknowledged is
// redelivered, and its partition does not advance until it is.
//
// Implementations:
//   - queue/memory: in-process broker backed by ants worker pools
//   - queue/natsq: NATS JetStream
package queue

import (
	"context"
	"errors"
	"hash/fnv"
)

var (
	// ErrUnknownTopic is returned for a topic that was never created.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrAlreadySubscribed is returned when a topic already has a subscriber.
	ErrAlreadySubscribed = errors.New("topic already has a subscriber")

	// ErrClosed is returned by a broker after Close.
	ErrClosed = errors.New("broker closed")
)

// Default topic names.
const (
	JobTopicName        = "pod-indexing-jobs"
	ItemTopicName       = "item-indexing-events"
	DeadLetterTopicName = "item-indexing-events-dlq"
)

// Topic names a topic and its partition count.
type Topic struct {
	Name       string `toml:"name"`
	Partitions int    `toml:"partitions"`
}

// Topics is the set of topics the pipeline uses.
type Topics struct {
	Jobs       Topic `toml:"jobs"`
	Items      Topic `toml:"items"`
	DeadLetter Topic `toml:"dead_letter"`
}

// DefaultTopics returns the standard topic layout.
func DefaultTopics() Topics {
	return Topics{
		Jobs:       Topic{Name: JobTopicName, Partitions: 3},
		Items:      Topic{Name: ItemTopicName, Partitions: 5},
		DeadLetter: Topic{Name: DeadLetterTopicName, Partitions: 1},
	}
}

// All returns every topic.
func (t Topics) All() []Topic {
	return []Topic{t.Jobs, t.Items, t.DeadLetter}
}

// Message is one delivery of a published record.
type Message interface {
	Topic() string
	Key() string
	Value() []byte
	Partition() int

	// Ack marks the message processed. A message that is not acked by the
	// time its handler returns is redelivered.
	Ack() error
}

// Handler processes one message. It owns the decision to Ack.
type Handler func(ctx context.Context, msg Message)

// Publisher appends keyed records to topics.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Subscription is an active subscription.
type Subscription interface {
	// Close stops delivery and waits for in-flight handlers to return.
	Close() error
}

// Subscriber delivers messages from a topic to a handler.
type Subscriber interface {
	// Subscribe starts delivering every partition of topic to handler with at
	// most concurrency handlers running at once.
	Subscribe(ctx context.Context, topic string, concurrency int, handler Handler) (Subscription, error)
}

// Broker is a Publisher and Subscriber with topic management.
type Broker interface {
	Publisher
	Subscriber

	// CreateTopic creates topic if it does not exist.
	CreateTopic(ctx context.Context, topic Topic) error

	Close() error
}

// Partition maps key onto one of n partitions with FNV-1a.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
