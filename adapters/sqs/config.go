package sqssink

// Config controls the SQS sink behavior.
type Config struct {
	// Required: fully qualified SQS queue URL
	QueueURL string

	// Optional: AWS region; falls back to default chain if empty
	Region string

	// Optional: endpoint override, e.g. a localstack URL
	Endpoint string

	// FIFO mode. Records are grouped per remote vertex unless MessageGroupID
	// is set, and deduplicated on their record id.
	FIFO           bool
	MessageGroupID string

	// DelaySeconds delays delivery of every record (0..900). Ignored for FIFO queues.
	DelaySeconds int32
}
