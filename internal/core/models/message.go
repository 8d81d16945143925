package models

import "time"

// Role is the author of a thread message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind separates internal control prompts from turns the student sees.
// It is assigned when the message is created and travels with it as
// thread metadata.
type Kind string

const (
	KindVisible Kind = "visible"
	KindControl Kind = "control"
)

// MetadataKindKey is the thread message metadata key carrying Kind
const MetadataKindKey = "casesim_kind"

// Message is a single turn in a remote conversation thread
type Message struct {
	ID        string
	Role      Role
	Kind      Kind
	Text      string
	CreatedAt time.Time
}

// IsControl reports whether the message is an internal control prompt
func (m Message) IsControl() bool {
	return m.Kind == KindControl
}

// NewMessage is a message about to be posted to a thread
type NewMessage struct {
	Role Role
	Kind Kind
	Text string
}
