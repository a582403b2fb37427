package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MsgCreateRawListing      MessageType = "CREATE_RAW_LAMUDI_LISTING_DATA"
	MsgReconcileRawListings  MessageType = "CREATE_LISTING_FROM_RAW_LAMUDI_DATA"
	MsgGenerateAIDescription MessageType = "CREATE_AI_GENERATED_DESCRIPTION"
)

// Known reports whether t is one of the message types the worker handles.
func (t MessageType) Known() bool {
	switch t {
	case MsgCreateRawListing, MsgReconcileRawListings, MsgGenerateAIDescription:
		return true
	}
	return false
}

const (
	SourceLamudi = "LAMUDI"
	SourceApp    = "APP"
)

// Message is the queue envelope shared by producers and the worker.
type Message struct {
	ID         string          `json:"id"`
	Type       MessageType     `json:"type"`
	Source     string          `json:"source"`
	Data       json.RawMessage `json:"data,omitempty"`
	Retry      int             `json:"retry"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
