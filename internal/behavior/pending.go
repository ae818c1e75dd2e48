package behavior

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a held response.
type Status string

const (
	// StatusPending awaits operator approval (controlled mode).
	StatusPending Status = "pending"

	// StatusHandRaised awaits meeting acknowledgment (queued mode).
	StatusHandRaised Status = "hand-raised"

	// StatusApproved was released by the operator and will be delivered.
	StatusApproved Status = "approved"

	// StatusRejected was discarded by the operator.
	StatusRejected Status = "rejected"

	// StatusSending is being delivered to the meeting.
	StatusSending Status = "sending"

	// StatusSent was fully delivered.
	StatusSent Status = "sent"

	// StatusFailed could not be delivered.
	StatusFailed Status = "failed"

	// StatusDismissed expired without a decision.
	StatusDismissed Status = "dismissed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusSent, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// validTransitions is the full transition table for held responses.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusDismissed},
	StatusHandRaised: {StatusSending, StatusRejected, StatusDismissed},
	StatusApproved:   {StatusSending},
	StatusSending:    {StatusSent, StatusFailed},
}

// canTransition reports whether from -> to is allowed.
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TriggerSource identifies which input produced a response.
type TriggerSource string

const (
	SourceCaption TriggerSource = "caption"
	SourceChat    TriggerSource = "chat"
)

// PendingResponse is a generated response held back by controlled or queued
// mode. The Processor mutates Status under its own lock; callers receive
// copies.
type PendingResponse struct {
	ID       string
	Source   TriggerSource
	Author   string
	Trigger  string
	Response string
	Channel  Channel
	Mode     Mode

	// LowerHandAfter carries the queued-mode option into delivery: when the
	// last hand-raised record drains, the hand is lowered only if set.
	LowerHandAfter bool

	Status          Status
	Error           string
	CreatedAt       time.Time
	StatusChangedAt time.Time
}

// newPendingResponse builds a held response in its initial status.
func newPendingResponse(source TriggerSource, author, trigger, response string, cfg TriggerConfig) *PendingResponse {
	status := StatusPending
	lowerAfter := false
	if cfg.Mode == ModeQueued {
		status = StatusHandRaised
		lowerAfter = cfg.Queued == nil || cfg.Queued.LowerHandAfter
	}
	now := time.Now()
	return &PendingResponse{
		ID:              uuid.NewString(),
		Source:          source,
		Author:          author,
		Trigger:         trigger,
		Response:        response,
		Channel:         cfg.Channel,
		Mode:            cfg.Mode,
		LowerHandAfter:  lowerAfter,
		Status:          status,
		CreatedAt:       now,
		StatusChangedAt: now,
	}
}

// transition moves the response to next, enforcing the transition table.
func (p *PendingResponse) transition(next Status) error {
	if !canTransition(p.Status, next) {
		return fmt.Errorf("behavior: invalid transition %s -> %s for response %s", p.Status, next, p.ID)
	}
	p.Status = next
	p.StatusChangedAt = time.Now()
	return nil
}
