package config

const (
	// TopicWork carries every queued work item, discriminated by its "type" field.
	TopicWork = "issues.work"

	// ChannelDispatcher is the consumer channel of the worker process.
	ChannelDispatcher = "dispatcher"
)
