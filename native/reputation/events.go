package reputation

import (
	"encoding/hex"
	"strconv"

	"trustescrow/core/types"
)

const (
	// EventTypeReputationUpdated is emitted whenever a merchant's score is
	// recomputed after a finalised transaction.
	EventTypeReputationUpdated = "reputation.updated"
)

// NewReputationUpdatedEvent returns the canonical payload announcing a
// merchant's recomputed score.
func NewReputationUpdatedEvent(merchant [20]byte, reputation uint64, valid bool) *types.Event {
	return &types.Event{
		Type: EventTypeReputationUpdated,
		Attributes: map[string]string{
			"merchant":   hex.EncodeToString(merchant[:]),
			"reputation": strconv.FormatUint(reputation, 10),
			"isValid":    strconv.FormatBool(valid),
		},
	}
}
