// Package notify delivers workout prompts and presentation events over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/2beens/stridewatch/internal/workout"
)

const (
	NotificationsChannel = "stridewatch:notifications"
	EventsChannel        = "stridewatch:events"

	publishTimeout = 2 * time.Second
)

const (
	EventPromptScheduled = "prompt_scheduled"
	EventPromptWithdrawn = "prompt_withdrawn"
	EventMileCrossed     = "mile_crossed"
	EventDrivingPrompt   = "driving_prompt"
	EventWorkoutSummary  = "workout_summary"
)

type Event struct {
	Type     string                 `json:"type"`
	At       time.Time              `json:"at"`
	PromptID string                 `json:"prompt_id,omitempty"`
	Prompt   *workout.PendingPrompt `json:"prompt,omitempty"`
	Mile     int                    `json:"mile,omitempty"`
	Status   *workout.Status        `json:"status,omitempty"`
	Summary  *workout.Summary       `json:"summary,omitempty"`
}

// Publisher is both the notification channel of the activity gate and the presentation
// observer of the session controller.
type Publisher struct {
	rdb *redis.Client
	now func() time.Time
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{
		rdb: rdb,
		now: time.Now,
	}
}

func (p *Publisher) Schedule(ctx context.Context, prompt workout.PendingPrompt) error {
	return p.publish(ctx, NotificationsChannel, Event{
		Type:     EventPromptScheduled,
		PromptID: prompt.ID,
		Prompt:   &prompt,
	})
}

func (p *Publisher) Withdraw(ctx context.Context, promptID string) error {
	return p.publish(ctx, NotificationsChannel, Event{
		Type:     EventPromptWithdrawn,
		PromptID: promptID,
	})
}

func (p *Publisher) MileCrossed(mile int) {
	p.publishEvent(Event{Type: EventMileCrossed, Mile: mile})
}

func (p *Publisher) DrivingPromptRaised(status workout.Status) {
	p.publishEvent(Event{Type: EventDrivingPrompt, Status: &status})
}

func (p *Publisher) EndAndShowSummary(summary workout.Summary) {
	p.publishEvent(Event{Type: EventWorkoutSummary, Summary: &summary})
}

func (p *Publisher) publishEvent(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.publish(ctx, EventsChannel, event); err != nil {
		log.Errorf("notify: publish %s: %s", event.Type, err)
	}
}

func (p *Publisher) publish(ctx context.Context, channel string, event Event) error {
	event.At = p.now()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	receivers, err := p.rdb.Publish(ctx, channel, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	log.Tracef("notify: %s delivered to %d subscribers on %s", event.Type, receivers, channel)

	return nil
}
