package server

import (
	"encoding/json"

	"claimline/internal/cache"
	"claimline/internal/events"
	"claimline/internal/reduce"
)

// Request payloads

type CreateCaseRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Category    string  `json:"category,omitempty" enum:"standard,acceleration,change-order"`
	ExternalRef *string `json:"external_ref,omitempty"`
}

type EventRequest struct {
	Kind      string          `json:"kind"`
	Comment   *string         `json:"comment,omitempty"`
	InReplyTo *string         `json:"in_reply_to,omitempty"`
	Payload   json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type AppendEventsRequest struct {
	ExpectedVersion int64          `json:"expected_version"`
	Events          []EventRequest `json:"events"`
}

// Response payloads

type CaseListResponse struct {
	Cases []cache.Entry `json:"cases"`
}

type CaseEventsResponse struct {
	Version int64          `json:"version"`
	Events  []events.Event `json:"events"`
}

type AppendEventsResponse struct {
	Version int64            `json:"version"`
	State   reduce.CaseState `json:"state"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
