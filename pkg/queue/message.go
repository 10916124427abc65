package queue

import "encoding/json"

// Stage names, literal per the external interface contract.
const (
	Planning  = "planning"
	Coding    = "coding"
	Reviewing = "reviewing"
	PROpen    = "pr-open"
)

// Message is one unit of work carried between stages. ID always equals the
// job id: forwarding a job from one stage to the next reuses the job id as
// the message id, so a crashed producer's re-enqueue collapses into the
// existing message instead of creating a duplicate.
type Message struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}
