package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// StatusPublisher publishes provider status events onto the sync pipeline.
type StatusPublisher struct {
	writer *kafka.Writer
}

// NewStatusPublisher constructs a status publisher for the given topic.
func NewStatusPublisher(k *Kafka, topic string) *StatusPublisher {
	return &StatusPublisher{writer: k.NewWriter(topic)}
}

// PublishStatus emits a status event, keyed by call id so events for one
// call stay ordered within a partition.
func (p *StatusPublisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("status publisher: marshal event: %w", err)
	}
	record := kafka.Message{
		Key:   event.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("status publisher: write event: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *StatusPublisher) Close() error {
	return p.writer.Close()
}

// DeadLetterPublisher parks unprocessable status events for operator replay.
type DeadLetterPublisher struct {
	writer *kafka.Writer
}

// NewDeadLetterPublisher constructs a dead-letter publisher.
func NewDeadLetterPublisher(k *Kafka, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{writer: k.NewWriter(topic)}
}

// Publish parks the failed event.
func (p *DeadLetterPublisher) Publish(ctx context.Context, letter DeadLetter) error {
	value, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("dead letter publisher: marshal: %w", err)
	}
	record := kafka.Message{
		Key:   letter.Event.CallID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("dead letter publisher: write: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}
