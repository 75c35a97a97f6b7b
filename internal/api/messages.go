// Package api defines the WebSocket message envelopes of the status server.
package api

import (
	"time"

	"github.com/skobkin/creepmon/internal/sampler"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string         `json:"type"`
	IntervalMS int64          `json:"interval_ms"`
	RunID      string         `json:"run_id"`
	Status     sampler.Status `json:"status"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(interval time.Duration, runID string, status sampler.Status) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: interval.Milliseconds(),
		RunID:      runID,
		Status:     status,
	}
}

// SampleMessage wraps one poll sample for transport.
type SampleMessage struct {
	Type string `json:"type"`
	sampler.Sample
}

// NewSampleMessage constructs a sample payload.
func NewSampleMessage(sample sampler.Sample) SampleMessage {
	return SampleMessage{
		Type:   "sample",
		Sample: sample,
	}
}

// StatusMessage wraps the run status for transport.
type StatusMessage struct {
	Type string `json:"type"`
	sampler.Status
}

// NewStatusMessage constructs a status payload.
func NewStatusMessage(status sampler.Status) StatusMessage {
	return StatusMessage{
		Type:   "status",
		Status: status,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
