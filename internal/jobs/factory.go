package jobs

import (
	"time"

	"github.com/rs/zerolog"
)

// NewQueue returns a KafkaQueue when brokers are configured and an
// in-process optimizer otherwise.
func NewQueue(config KafkaConfig, pub Publisher, logger zerolog.Logger) (Queue, error) {
	if len(config.Brokers) > 0 {
		logger.Info().Strs("brokers", config.Brokers).Str("topic", config.RequestTopic).Msg("using kafka route optimization queue")
		q, err := NewKafkaQueue(config, pub, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	logger.Info().Msg("using in-memory route optimizer (KAFKA_BROKERS not set)")
	return NewInMemoryQueue(pub, logger, 256, 500*time.Millisecond), nil
}
