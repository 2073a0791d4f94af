package livefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/model"
)

const subscriberBuffer = 32

// FeedManager multiplexes the per-exam Redis channels. One subscription per
// exam is shared by every listener (student runtimes and teacher consoles);
// the subscription is opened on the first listener and closed with the last.
type FeedManager struct {
	rdb     *redis.Client
	baseCtx context.Context
	log     zerolog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	examID      string
	pubsub      *redis.PubSub
	subscribers map[int]chan model.SheetEvent
	nextID      int
}

func NewFeedManager(ctx context.Context, rdb *redis.Client, log zerolog.Logger) *FeedManager {
	return &FeedManager{
		rdb:     rdb,
		baseCtx: ctx,
		feeds:   make(map[string]*feed),
		log:     log.With().Str("component", "feed_manager").Logger(),
	}
}

// Subscribe attaches a listener to the exam feed. The stop function must be
// called when the listener is done; it closes the returned channel.
func (m *FeedManager) Subscribe(ctx context.Context, examID string) (<-chan model.SheetEvent, func()) {
	m.mu.Lock()
	f, ok := m.feeds[examID]
	if !ok {
		f = &feed{
			examID:      examID,
			pubsub:      m.rdb.Subscribe(m.baseCtx, config.CacheKey.ExamFeedChannel(examID)),
			subscribers: make(map[int]chan model.SheetEvent),
		}
		m.feeds[examID] = f
		go m.pump(f)
	}
	id := f.nextID
	f.nextID++
	ch := make(chan model.SheetEvent, subscriberBuffer)
	f.subscribers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.unsubscribe(f, id)
		})
	}
	return ch, stop
}

// pump reads the Redis subscription and fans events out. Slow listeners are
// skipped rather than allowed to stall the feed.
func (m *FeedManager) pump(f *feed) {
	for msg := range f.pubsub.Channel() {
		var ev model.SheetEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			m.log.Warn().Err(err).Str("exam_id", f.examID).Msg("malformed sheet event on feed")
			continue
		}

		m.mu.Lock()
		for id, ch := range f.subscribers {
			select {
			case ch <- ev:
			default:
				m.log.Warn().
					Str("exam_id", f.examID).
					Int("subscriber", id).
					Msg("feed subscriber lagging, event dropped")
			}
		}
		m.mu.Unlock()
	}

	// Subscription closed: release whoever is still attached.
	m.mu.Lock()
	for _, ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = make(map[int]chan model.SheetEvent)
	m.mu.Unlock()
}

func (m *FeedManager) unsubscribe(f *feed, id int) {
	m.mu.Lock()
	ch, ok := f.subscribers[id]
	if ok {
		delete(f.subscribers, id)
		close(ch)
	}
	last := len(f.subscribers) == 0
	if last && m.feeds[f.examID] == f {
		delete(m.feeds, f.examID)
	}
	m.mu.Unlock()

	if last {
		if err := f.pubsub.Close(); err != nil {
			m.log.Warn().Err(err).Str("exam_id", f.examID).Msg("failed to close feed subscription")
		}
	}
}

// Close shuts down every open feed. Used on server shutdown.
func (m *FeedManager) Close() {
	m.mu.Lock()
	feeds := make([]*feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	m.feeds = make(map[string]*feed)
	m.mu.Unlock()

	for _, f := range feeds {
		_ = f.pubsub.Close()
	}
}
