package shared

import (
	"encoding/json"
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Achievement events
	EventAchievementUnlocked  EventType = "achievement.unlocked"
	EventEvaluationCompleted  EventType = "achievement.evaluation_completed"
	EventAchievementsNotified EventType = "achievement.notified"

	// Badge events
	EventBadgeAwarded    EventType = "badge.awarded"
	EventBadgeEquipped   EventType = "badge.equipped"
	EventBadgeUnequipped EventType = "badge.unequipped"

	// Activity events
	EventActionTracked EventType = "activity.action_tracked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For every event in this module it is the user ID.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// NewUserEvent creates a base event whose aggregate is a user.
func NewUserEvent(eventType EventType, userID int64) BaseEvent {
	return NewBaseEvent(eventType, strconv.FormatInt(userID, 10))
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per newly persisted unlock record.
// Cascaded tiers produce one event each.
type AchievementUnlockedEvent struct {
	BaseEvent
	UserID        int64  `json:"user_id"`
	AchievementID string `json:"achievement_id"`
	Tier          string `json:"tier,omitempty"`
	CurrentValue  int    `json:"current_value"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"achievement_id": e.AchievementID,
		"tier":           e.Tier,
		"current_value":  e.CurrentValue,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID int64, achievementID, tier string, value int) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewUserEvent(EventAchievementUnlocked, userID),
		UserID:        userID,
		AchievementID: achievementID,
		Tier:          tier,
		CurrentValue:  value,
	}
}

// EvaluationCompletedEvent summarises one evaluation run.
type EvaluationCompletedEvent struct {
	BaseEvent
	UserID    int64         `json:"user_id"`
	Trigger   string        `json:"trigger"`
	Evaluated int           `json:"evaluated"`
	Unlocked  int           `json:"unlocked"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e EvaluationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"trigger":   e.Trigger,
		"evaluated": e.Evaluated,
		"unlocked":  e.Unlocked,
		"failed":    e.Failed,
		"duration":  e.Duration.String(),
	}
}

// AchievementsNotifiedEvent is emitted when the client acknowledged unlocks.
type AchievementsNotifiedEvent struct {
	BaseEvent
	UserID int64   `json:"user_id"`
	IDs    []int64 `json:"ids"`
}

// Payload implements Event interface.
func (e AchievementsNotifiedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"ids":     e.IDs,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Badge Events
// ═══════════════════════════════════════════════════════════════════════════

// BadgeEvent covers award, equip and unequip.
type BadgeEvent struct {
	BaseEvent
	UserID  int64  `json:"user_id"`
	BadgeID string `json:"badge_id,omitempty"`
	Slot    int    `json:"slot,omitempty"`
}

// Payload implements Event interface.
func (e BadgeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  e.UserID,
		"badge_id": e.BadgeID,
		"slot":     e.Slot,
	}
}

// NewBadgeEvent creates a badge event of the given type.
func NewBadgeEvent(eventType EventType, userID int64, badgeID string, slot int) BadgeEvent {
	return BadgeEvent{
		BaseEvent: NewUserEvent(eventType, userID),
		UserID:    userID,
		BadgeID:   badgeID,
		Slot:      slot,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity Events
// ═══════════════════════════════════════════════════════════════════════════

// ActionTrackedEvent is emitted after a study action counter was incremented.
type ActionTrackedEvent struct {
	BaseEvent
	UserID int64  `json:"user_id"`
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// Payload implements Event interface.
func (e ActionTrackedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID,
		"action":  e.Action,
		"count":   e.Count,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope serialises an event into an envelope.
func NewEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = b.Correlation()
	}
	return env, nil
}

// Correlation returns the correlation ID of the event.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
