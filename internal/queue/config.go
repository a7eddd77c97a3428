package queue

import "time"

// Config holds configuration for the queue manager
type Config struct {
	// PollInterval is how often workers poll for messages
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// VisibilityTimeout is the message visibility timeout for redelivery.
	// NewManager and WorkerPool do not pass it to goqite, so goqite's own
	// default timeout applies.
	VisibilityTimeout time.Duration

	// MaxReceive is the maximum times a message can be received. It is
	// not passed to goqite either; goqite's own default limit applies.
	MaxReceive int

	// QueueName is the name of the queue in goqite table
	QueueName string
}

// NewDefaultConfig creates a queue configuration with sensible defaults
// for a named queue. The grapher and director call it with the fixed
// CTX-JobRes / CTX-Director queue constants; frontend instances build
// their Config inline with QueueName set to
// ctxmodel.QueueForType(objectType).
func NewDefaultConfig(queueName string) Config {
	return Config{
		PollInterval:      1 * time.Second,
		Concurrency:       5,
		VisibilityTimeout: 5 * time.Minute,
		MaxReceive:        3,
		QueueName:         queueName,
	}
}
