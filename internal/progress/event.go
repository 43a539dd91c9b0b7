package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageBatchStart Stage = "BATCH_START"
	StageBatchDone  Stage = "BATCH_DONE"
	StagePageStart  Stage = "PAGE_START"
	StagePageDone   Stage = "PAGE_DONE"
	StageChallenge  Stage = "CHALLENGE"
	StageProxyLoad  Stage = "PROXY_LOAD"
)

// Event captures a single component of scrape progress.
type Event struct {
	// RunID groups every event of one harvester run (16-byte UUID form).
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Keyword, Place and Page scope batch and page events.
	Keyword string
	Place   string
	Page    int
	// Outcome is the page outcome kind (PAGE_DONE) or the challenge state (CHALLENGE).
	Outcome string
	// ErrorKind classifies failures on PAGE_DONE.
	ErrorKind string
	// Count is the record count for PAGE_DONE/BATCH_DONE or proxy count for PROXY_LOAD.
	Count int
	// Proxy is the proxy identifier used by the session, empty for direct.
	Proxy string
	Dur   time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageProxyLoad:
	case StageBatchStart, StageBatchDone:
		if e.Keyword == "" && e.Place == "" {
			return fmt.Errorf("%s requires keyword or place", e.Stage)
		}
	case StagePageStart, StagePageDone, StageChallenge:
		if e.Page < 1 {
			return fmt.Errorf("%s requires page >= 1", e.Stage)
		}
		if e.Stage == StagePageDone && e.Outcome == "" {
			return errors.New("page done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
