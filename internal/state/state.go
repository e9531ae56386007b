package state

import (
	"sync"
	"time"
)

// Activity is one externally visible action of the relayer.
type Activity struct {
	Kind    EventType
	CycleID string
	// Ref identifies the subject: a tx hash, an address or a header range.
	Ref    string
	Height int64
	Amount int64
	Detail string
	At     time.Time
}

// PollSnapshot is what the last poll cycle left behind.
type PollSnapshot struct {
	CycleID               string
	Cycles                uint64
	StartedAt             time.Time
	FinishedAt            time.Time
	Skipped               bool
	LocalFederator        string
	SourceHeight          int64
	BridgeHeight          int64
	LastHeaderRelay       time.Time
	LastCollectionsUpdate time.Time
	LastTargetBlock       uint64
	ImportError           string
	ReleaseError          string
}

type QueueStats struct {
	Depth    int
	Dropped  uint64
	Capacity int
}

// State is the read side of the relayer for the status surface. The poll
// goroutine and the withdrawal listener write it, the HTTP server reads it.
type State struct {
	EventBus *EventBus

	pollMu  sync.RWMutex
	queueMu sync.RWMutex

	poll  PollSnapshot
	queue QueueStats
}

func InitializeState() *State {
	return &State{
		EventBus: NewEventBus(),
	}
}

func (s *State) UpdatePoll(snap PollSnapshot) {
	s.pollMu.Lock()
	s.poll = snap
	s.pollMu.Unlock()

	s.EventBus.Publish(CycleFinished, snap)
}

func (s *State) GetPoll() PollSnapshot {
	s.pollMu.RLock()
	defer s.pollMu.RUnlock()
	return s.poll
}

func (s *State) UpdateQueue(stats QueueStats) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = stats
}

func (s *State) GetQueue() QueueStats {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	return s.queue
}

// Record stamps a and publishes it under its kind.
func (s *State) Record(a Activity) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	s.EventBus.Publish(a.Kind, a)
}
