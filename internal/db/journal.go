package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goatnetwork/peg-relayer/internal/state"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const checkpointID = 1

// resubscribeInterval is how often the journal checks that the bus has not
// dropped it.
const resubscribeInterval = 10 * time.Second

// Journal persists bus activity and the poll checkpoint.
type Journal struct {
	dm     *DatabaseManager
	state  *state.State
	events chan interface{}
}

func NewJournal(dm *DatabaseManager, st *state.State) *Journal {
	return &Journal{
		dm:     dm,
		state:  st,
		events: make(chan interface{}, 256),
	}
}

func journaled() []state.EventType {
	return append(append([]state.EventType(nil), state.ActivityEvents...), state.CycleFinished)
}

func (j *Journal) subscribe() {
	for _, kind := range journaled() {
		j.state.EventBus.Subscribe(kind, j.events)
	}
}

func (j *Journal) unsubscribe() {
	for _, kind := range journaled() {
		j.state.EventBus.Unsubscribe(kind, j.events)
	}
}

// resubscribe restores the subscriptions the bus dropped while the journal
// was behind and returns how many it restored.
func (j *Journal) resubscribe() int {
	restored := 0
	for _, kind := range journaled() {
		if !j.state.EventBus.Subscribed(kind, j.events) {
			j.state.EventBus.Subscribe(kind, j.events)
			restored++
		}
	}
	if restored > 0 {
		log.Warnf("Journal fell behind, subscribed again to %d event kinds; events in between were not persisted", restored)
	}
	return restored
}

// Start subscribes to the bus and writes events until ctx is done.
func (j *Journal) Start(ctx context.Context) {
	j.subscribe()
	defer j.unsubscribe()

	ticker := time.NewTicker(resubscribeInterval)
	defer ticker.Stop()

	log.Info("Journal started")
	for {
		select {
		case <-ctx.Done():
			log.Info("Journal stopping...")
			return
		case <-ticker.C:
			j.resubscribe()
		case event := <-j.events:
			j.handle(event)
		}
	}
}

func (j *Journal) handle(event interface{}) {
	var err error
	switch e := event.(type) {
	case state.Activity:
		err = j.Save(e)
	case state.PollSnapshot:
		err = j.SaveCheckpoint(e)
	default:
		log.Debugf("Journal ignores event %T", event)
	}
	if err != nil {
		log.Errorf("Journal write failed: %v", err)
	}
}

func (j *Journal) Save(a state.Activity) error {
	record := &RelayRecord{
		ID:        uuid.NewString(),
		Kind:      a.Kind.String(),
		CycleID:   a.CycleID,
		Ref:       a.Ref,
		Height:    a.Height,
		Amount:    a.Amount,
		Detail:    a.Detail,
		CreatedAt: a.At,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := j.dm.GetJournalDB().Create(record).Error; err != nil {
		return fmt.Errorf("save %s %s: %w", record.Kind, record.Ref, err)
	}
	return nil
}

// Recent returns up to limit records, newest first. An empty kind matches
// all records.
func (j *Journal) Recent(limit int, kind string) ([]RelayRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []RelayRecord
	q := j.dm.GetJournalDB().Order("created_at desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (j *Journal) SaveCheckpoint(snap state.PollSnapshot) error {
	cp := &PollCheckpoint{
		ID:                    checkpointID,
		LastHeaderRelay:       snap.LastHeaderRelay,
		LastCollectionsUpdate: snap.LastCollectionsUpdate,
		LastTargetBlock:       snap.LastTargetBlock,
		Cycles:                snap.Cycles,
		UpdatedAt:             time.Now(),
	}
	if err := j.dm.GetCheckpointDB().Save(cp).Error; err != nil {
		return fmt.Errorf("save poll checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns nil when no cycle has finished yet.
func (j *Journal) LoadCheckpoint() (*PollCheckpoint, error) {
	var cp PollCheckpoint
	err := j.dm.GetCheckpointDB().First(&cp, checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
