package kafka

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// DLQError marks a handler failure that retrying cannot fix. The consumer
// parks the message on the dead-letter topic and moves on.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

type DLQPayload struct {
	OriginalTopic string    `json:"original_topic"`
	Partition     int32     `json:"partition"`
	Offset        int64     `json:"offset"`
	Key           string    `json:"key,omitempty"`
	Error         string    `json:"error"`
	Reason        string    `json:"reason,omitempty"`
	Payload       string    `json:"payload_base64"`
	Timestamp     time.Time `json:"timestamp"`
}

func BuildDLQPayload(msg *sarama.ConsumerMessage, err *DLQError) DLQPayload {
	p := DLQPayload{
		OriginalTopic: msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		Payload:       base64.StdEncoding.EncodeToString(msg.Value),
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		p.Error = err.Err.Error()
		p.Reason = err.Reason
	}
	return p
}
