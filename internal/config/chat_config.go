package config

import "time"

const (
	// Messages
	MaxMessageLength = 4000
	SystemSenderID   = "system"
	PreviewLength    = 120

	// Polling cadence advertised to clients
	DefaultSessionPollInterval = 10 * time.Second
	DefaultMessagePollInterval = 5 * time.Second

	// Presence lives for two session polls; a viewer that misses both is offline.
	PresenceTTLFactor = 2

	// Identity tokens issued by the admin CLI for local testing
	DefaultTokenTTL = 72 * time.Hour
)

// NoticeBodies are the stored bodies of system messages appended on lifecycle
// transitions. %s is replaced by the actor id.
var NoticeBodies = map[string]string{
	"system_closed":           "Conversation closed by %s.",
	"system_reopen_requested": "%s asked to reopen the conversation.",
	"system_reopened":         "Conversation reopened by %s.",
}
