package cache

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/emilythestrangee/forum/backend/internal/logging"
)

// Channel is the PostgreSQL NOTIFY channel carrying invalidated tags.
const Channel = "forum_cache"

// PGBroadcaster shares invalidations between server instances through
// LISTEN/NOTIFY. Payloads are "<origin>|tag1,tag2" so an instance can skip
// its own notifications.
type PGBroadcaster struct {
	db       *sql.DB
	listener *pq.Listener
	cache    *Cache
	origin   string
}

// NewPGBroadcaster connects a listener with lib/pq and wires it to c.
func NewPGBroadcaster(dsn string, c *Cache) (*PGBroadcaster, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logging.Logger.Warn("cache listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(Channel); err != nil {
		db.Close()
		listener.Close()
		return nil, err
	}

	b := &PGBroadcaster{db: db, listener: listener, cache: c, origin: uuid.NewString()}
	c.SetNotifier(b)
	return b, nil
}

// Notify publishes tags to the other instances.
func (b *PGBroadcaster) Notify(tags ...string) {
	payload := b.origin + "|" + strings.Join(tags, ",")
	if _, err := b.db.Exec("SELECT pg_notify($1, $2)", Channel, payload); err != nil {
		logging.Logger.Warn("cache notify failed", zap.Error(err))
	}
}

// Run applies remote invalidations until ctx is done.
func (b *PGBroadcaster) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-b.listener.Notify:
			if n == nil {
				// connection was re-established; anything may have changed
				b.cache.evictAll()
				continue
			}
			if tags, ok := parsePayload(n.Extra, b.origin); ok {
				b.cache.evict(tags...)
			}
		case <-ping.C:
			go b.listener.Ping()
		}
	}
}

func (b *PGBroadcaster) Close() error {
	b.listener.Close()
	return b.db.Close()
}

func parsePayload(payload, self string) ([]string, bool) {
	origin, rest, ok := strings.Cut(payload, "|")
	if !ok || origin == self || rest == "" {
		return nil, false
	}
	return strings.Split(rest, ","), true
}
