package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

const userAgent = "forum-webhooks/1.0"

// Payload is the JSON body of every delivery.
type Payload struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

type job struct {
	hook    models.Webhook
	payload Payload
}

// Dispatcher delivers events to every active webhook subscribed to them,
// using a fixed pool of workers.
type Dispatcher struct {
	db     *gorm.DB
	client *http.Client

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, timeout time.Duration, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		db:     db,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan job, 256),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout+5*time.Second)
		if _, err := d.send(ctx, j.hook, j.payload); err != nil {
			logging.Logger.Warn("webhook delivery failed",
				zap.Int("webhook_id", j.hook.ID),
				zap.String("event", j.payload.Event),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Publish queues event for every subscribed webhook. It never blocks on the
// network; when the queue is full the delivery is dropped and logged.
func (d *Dispatcher) Publish(ctx context.Context, event string, data any) {
	var hooks []models.Webhook
	if err := d.db.WithContext(ctx).Where("active = ?", true).Find(&hooks).Error; err != nil {
		logging.FromContext(ctx).Error("failed to load webhooks", zap.Error(err))
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, hook := range hooks {
		if !hook.Subscribed(event) {
			continue
		}
		select {
		case d.queue <- job{hook: hook, payload: newPayload(event, data)}:
		default:
			logging.FromContext(ctx).Warn("webhook queue full, dropping delivery",
				zap.Int("webhook_id", hook.ID), zap.String("event", event))
		}
	}
}

// Deliver sends a single event synchronously and returns the recorded attempt.
func (d *Dispatcher) Deliver(ctx context.Context, hook models.Webhook, event string, data any) (*models.WebhookDelivery, error) {
	return d.send(ctx, hook, newPayload(event, data))
}

// Close stops accepting events and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func newPayload(event string, data any) Payload {
	return Payload{
		ID:        uuid.NewString(),
		Event:     event,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

func (d *Dispatcher) send(ctx context.Context, hook models.Webhook, payload Payload) (*models.WebhookDelivery, error) {
	delivery := &models.WebhookDelivery{
		WebhookID:  hook.ID,
		DeliveryID: payload.ID,
		Event:      payload.Event,
	}

	start := time.Now()
	sendErr := d.post(ctx, hook, payload, delivery)
	delivery.DurationMS = time.Since(start).Milliseconds()
	if sendErr != nil {
		delivery.Error = truncate(sendErr.Error(), 500)
	}

	if err := d.db.WithContext(context.WithoutCancel(ctx)).Create(delivery).Error; err != nil {
		logging.FromContext(ctx).Error("failed to record webhook delivery", zap.Error(err))
	}
	return delivery, sendErr
}

func (d *Dispatcher) post(ctx context.Context, hook models.Webhook, payload Payload, delivery *models.WebhookDelivery) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderDelivery, payload.ID)
	req.Header.Set(HeaderSignature, Sign(hook.Secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	delivery.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	delivery.Success = true
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
