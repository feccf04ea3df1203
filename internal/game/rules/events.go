package rules

import (
	"sync"
	"time"
)

// EventType indicates the category of a rules event.
type EventType string

const (
	// Lifecycle events
	EventGameStarted EventType = "GAME_STARTED"
	EventGameEnded   EventType = "GAME_ENDED"
	EventTurnStarted EventType = "TURN_STARTED"
	EventTurnEnded   EventType = "TURN_ENDED"
	EventExtraTurn   EventType = "EXTRA_TURN"
	EventReversed    EventType = "DIRECTION_REVERSED"

	// Card movement events
	EventCardPlayed    EventType = "CARD_PLAYED"
	EventCardDrawn     EventType = "CARD_DRAWN"
	EventCardInserted  EventType = "CARD_INSERTED"
	EventCardGiven     EventType = "CARD_GIVEN"
	EventCardStolen    EventType = "CARD_STOLEN"
	EventPileRecycled  EventType = "PILE_RECYCLED"
	EventPileShuffled  EventType = "PILE_SHUFFLED"
	EventHandsSwapped  EventType = "HANDS_SWAPPED"
	EventEffectSkipped EventType = "EFFECT_SKIPPED"

	// Player events
	EventPlayerEliminated EventType = "PLAYER_ELIMINATED"
	EventScoreChanged     EventType = "SCORE_CHANGED"

	// Pending action events
	EventPendingOpened   EventType = "PENDING_OPENED"
	EventPendingResolved EventType = "PENDING_RESOLVED"
	EventReactionPlayed  EventType = "REACTION_PLAYED"
)

// Event represents a state change that other subsystems may react to.
type Event struct {
	Type      EventType
	RoomCode  string            // Room the event happened in
	PlayerID  string            // Acting player
	TargetID  string            // Affected player, if any
	CardID    string            // Card involved, if any
	Amount    int               // Numeric value (cards drawn, points, skip count)
	Data      string            // Additional string data
	Timestamp time.Time         // When the event occurred
	Metadata  map[string]string // Additional metadata
}

// Listener defines a callback that reacts to incoming events.
type Listener func(Event)

// TypedListener defines a callback that reacts to a specific event type.
type TypedListener struct {
	Handle    int
	EventType EventType
	Callback  func(Event)
}

// EventBus provides a synchronous publish/subscribe implementation with type filtering.
type EventBus struct {
	mu             sync.RWMutex
	listeners      map[int]Listener
	typedListeners map[EventType][]TypedListener
	nextHandle     int
}

// NewEventBus constructs a fresh event bus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		listeners:      make(map[int]Listener),
		typedListeners: make(map[EventType][]TypedListener),
	}
}

// Subscribe registers a listener for all events and returns a handle.
func (bus *EventBus) Subscribe(listener Listener) int {
	if listener == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.listeners[handle] = listener
	return handle
}

// SubscribeTyped registers a listener for a specific event type.
func (bus *EventBus) SubscribeTyped(eventType EventType, callback func(Event)) int {
	if callback == nil {
		return -1
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	handle := bus.nextHandle
	bus.nextHandle++
	bus.typedListeners[eventType] = append(bus.typedListeners[eventType], TypedListener{
		Handle:    handle,
		EventType: eventType,
		Callback:  callback,
	})
	return handle
}

// Unsubscribe removes the listener identified by the provided handle,
// whether it was registered with Subscribe or SubscribeTyped.
func (bus *EventBus) Unsubscribe(handle int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.listeners, handle)
	for eventType, listeners := range bus.typedListeners {
		for i := len(listeners) - 1; i >= 0; i-- {
			if listeners[i].Handle == handle {
				bus.typedListeners[eventType] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to all registered listeners synchronously.
// Listeners must not subscribe or unsubscribe from inside the callback.
func (bus *EventBus) Publish(event Event) {
	if bus == nil {
		return
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for _, listener := range bus.listeners {
		listener(event)
	}
	for _, listener := range bus.typedListeners[event.Type] {
		listener.Callback(event)
	}
}

// NewEvent creates a new event with common fields populated.
func NewEvent(eventType EventType, roomCode, playerID string) Event {
	return Event{
		Type:      eventType,
		RoomCode:  roomCode,
		PlayerID:  playerID,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
}

// NewEventWithAmount creates a new event with an amount value.
func NewEventWithAmount(eventType EventType, roomCode, playerID string, amount int) Event {
	evt := NewEvent(eventType, roomCode, playerID)
	evt.Amount = amount
	return evt
}

// NewEventWithTarget creates a new event aimed at another player.
func NewEventWithTarget(eventType EventType, roomCode, playerID, targetID string) Event {
	evt := NewEvent(eventType, roomCode, playerID)
	evt.TargetID = targetID
	return evt
}
