package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/queue"
	"github.com/poiesic/podhub/storage"
)

// DeadLetterArchiver persists dead-lettered item messages and replays them
// on request.
type DeadLetterArchiver struct {
	letters   storage.DeadLetterRepository
	publisher queue.Publisher
	itemTopic string
	logger    *slog.Logger
}

// NewDeadLetterArchiver creates an archiver that replays to itemTopic.
func NewDeadLetterArchiver(letters storage.DeadLetterRepository, publisher queue.Publisher, itemTopic string, logger *slog.Logger) (*DeadLetterArchiver, error) {
	if letters == nil {
		return nil, ErrDeadLetterRepositoryRequired
	}
	if publisher == nil {
		return nil, ErrBrokerRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterArchiver{
		letters:   letters,
		publisher: publisher,
		itemTopic: itemTopic,
		logger:    logger.With("component", "dead-letter-archiver"),
	}, nil
}

// Handle archives one dead-letter message. A failed save leaves the message
// unacked so it is redelivered.
func (a *DeadLetterArchiver) Handle(ctx context.Context, msg queue.Message) {
	letter := &core.DeadLetter{
		Topic:     a.itemTopic,
		Key:       msg.Key(),
		Payload:   string(msg.Value()),
		Reason:    reasonFor(msg.Value()),
		CreatedAt: time.Now().UTC(),
	}
	saved, err := a.letters.SaveDeadLetter(ctx, letter)
	if err != nil {
		a.logger.Error("failed to archive dead letter", "key", msg.Key(), "err", err)
		return
	}
	a.logger.Info("dead letter archived", "id", saved.ID, "key", saved.Key)
	ack(a.logger, msg)
}

// reasonFor classifies a payload. The item processor logs the actual error;
// the archive only distinguishes unparseable payloads from failed processing.
func reasonFor(payload []byte) string {
	if _, err := ParseItemMessage(payload); err != nil {
		return err.Error()
	}
	return "processing failed"
}

// List returns up to limit archived dead letters, oldest first.
func (a *DeadLetterArchiver) List(ctx context.Context, limit int) ([]*core.DeadLetter, error) {
	return a.letters.ListDeadLetters(ctx, limit)
}

// Replay re-publishes an archived dead letter to its topic and removes it
// from the archive.
func (a *DeadLetterArchiver) Replay(ctx context.Context, id string) error {
	letter, err := a.letters.GetDeadLetter(ctx, id)
	if err != nil {
		return fmt.Errorf("get dead letter %s: %w", id, err)
	}
	topic := letter.Topic
	if topic == "" {
		topic = a.itemTopic
	}
	if err := a.publisher.Publish(ctx, topic, letter.Key, []byte(letter.Payload)); err != nil {
		return fmt.Errorf("replay dead letter %s: %w", id, err)
	}
	if err := a.letters.DeleteDeadLetter(ctx, id); err != nil {
		return fmt.Errorf("delete replayed dead letter %s: %w", id, err)
	}
	a.logger.Info("dead letter replayed", "id", id, "topic", topic, "key", letter.Key)
	return nil
}

// ReplayAll replays every archived dead letter and returns how many were replayed.
func (a *DeadLetterArchiver) ReplayAll(ctx context.Context) (int, error) {
	letters, err := a.letters.ListDeadLetters(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, letter := range letters {
		if err := a.Replay(ctx, letter.ID); err != nil {
			return i, err
		}
	}
	return len(letters), nil
}
