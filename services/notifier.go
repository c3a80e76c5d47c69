package services

import (
	"sync"
	"time"
)

const (
	EventProgressChanged = "progress_changed"
	EventGameUnlocked    = "game_unlocked"
	EventProgressReset   = "progress_reset"
)

// ProgressEvent tells a client its progress rows changed. It carries no
// progress data; clients re-read /user/progress.
type ProgressEvent struct {
	Kind   string    `json:"kind"`
	GameID string    `json:"game_id,omitempty"`
	At     time.Time `json:"at"`
}

type Notifier interface {
	Publish(playerID string, ev ProgressEvent)
}

// Broker fans progress events out to the subscribers of each player.
// Slow subscribers miss events rather than block publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan ProgressEvent]struct{}
	buffer int
}

var _ Notifier = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan ProgressEvent]struct{}), buffer: 16}
}

// Subscribe registers a listener for playerID. cancel must be called once
// the listener is done; it closes the channel.
func (b *Broker) Subscribe(playerID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, b.buffer)

	b.mu.Lock()
	if b.subs[playerID] == nil {
		b.subs[playerID] = make(map[chan ProgressEvent]struct{})
	}
	b.subs[playerID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[playerID], ch)
			if len(b.subs[playerID]) == 0 {
				delete(b.subs, playerID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broker) Publish(playerID string, ev ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[playerID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns how many listeners playerID has.
func (b *Broker) Subscribers(playerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[playerID])
}
