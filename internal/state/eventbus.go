package state

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

type EventType int

const (
	EventUnkown EventType = iota
	CycleFinished
	IdentityError
	HeadersRelayed
	DepositRegistered
	WhitelistAuthorized
	CollectionsUpdated
	SignatureAdded
	WithdrawalQueued
	WithdrawalDropped
	WithdrawalBroadcast
)

// ActivityEvents are the events the journal records.
var ActivityEvents = []EventType{
	IdentityError,
	HeadersRelayed,
	DepositRegistered,
	WhitelistAuthorized,
	CollectionsUpdated,
	SignatureAdded,
	WithdrawalQueued,
	WithdrawalDropped,
	WithdrawalBroadcast,
}

func (e EventType) String() string {
	return [...]string{"EventUnkown", "CycleFinished", "IdentityError", "HeadersRelayed", "DepositRegistered", "WhitelistAuthorized", "CollectionsUpdated", "SignatureAdded", "WithdrawalQueued", "WithdrawalDropped", "WithdrawalBroadcast"}[e]
}

type EventBus struct {
	subscribers map[string][]chan interface{}
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan interface{}),
	}
}

// enum for eventType
func (eb *EventBus) Subscribe(eventType EventType, ch chan interface{}) {
	if ch == nil {
		panic("channel == nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType.String()] = append(eb.subscribers[eventType.String()], ch)
}

// Publish never blocks. A subscriber that cannot take the event right away
// is dropped; it can check Subscribed and subscribe again.
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	eb.mu.RLock()
	subscribers, ok := eb.subscribers[eventType.String()]
	if !ok {
		eb.mu.RUnlock()
		return
	}
	originLen := len(subscribers)
	removeIndexes := make(map[int]bool)
	for i := 0; i < originLen; i++ {
		ch := subscribers[i]
		select {
		case ch <- data:
			// Success
		default:
			removeIndexes[i] = true
		}
	}
	eb.mu.RUnlock()

	if len(removeIndexes) > 0 {
		eb.mu.Lock()
		if originLen == len(eb.subscribers[eventType.String()]) {
			var newSubscribers []chan interface{}
			for index, ch := range eb.subscribers[eventType.String()] {
				if _, is := removeIndexes[index]; !is {
					newSubscribers = append(newSubscribers, ch)
				}
			}
			eb.subscribers[eventType.String()] = newSubscribers
		}
		eb.mu.Unlock()
		log.Warnf("EventBus dropped %d %s subscriber(s) that were not keeping up", len(removeIndexes), eventType)
	}
}

// Subscribed reports whether ch still receives eventType.
func (eb *EventBus) Subscribed(eventType EventType, ch chan interface{}) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, subscriber := range eb.subscribers[eventType.String()] {
		if subscriber == ch {
			return true
		}
	}
	return false
}

func (eb *EventBus) Unsubscribe(eventType EventType, ch chan interface{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers, ok := eb.subscribers[eventType.String()]
	if !ok {
		return
	}

	for i, subscriber := range subscribers {
		if subscriber == ch {
			eb.subscribers[eventType.String()] = append(subscribers[:i:i], subscribers[i+1:]...)
			break
		}
	}
	if len(eb.subscribers[eventType.String()]) == 0 {
		delete(eb.subscribers, eventType.String())
	}
}
