package livefeed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/model"
)

// Publisher pushes sheet events onto the per-exam Redis channel. Publishing
// is best effort: a Redis outage degrades the live feed, never the exam.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{
		rdb: rdb,
		log: log.With().Str("component", "feed_publisher").Logger(),
	}
}

func (p *Publisher) Publish(ctx context.Context, examID string, ev model.SheetEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode sheet event")
		return
	}
	channel := config.CacheKey.ExamFeedChannel(examID)
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("failed to publish sheet event")
	}
}
