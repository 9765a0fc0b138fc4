// Package events defines event types and structures for dataflow lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic.
const Topic = "dataflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Active registry lifecycle events.
	DataFlowRegisteredEvent   EventType = "dataflow.registered"
	DataFlowDeregisteredEvent EventType = "dataflow.deregistered"
	DataFlowEnabledEvent      EventType = "dataflow.enabled"
	DataFlowDisabledEvent     EventType = "dataflow.disabled"
	DataFlowReloadedEvent     EventType = "dataflow.reloaded"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	DataFlow  string         `json:"dataflow,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type DataFlowRegistered struct {
	BaseEvent

	TargetData string `json:"target_data"`
	Replaced   bool   `json:"replaced"`
}

func (e DataFlowRegistered) GetType() EventType {
	return DataFlowRegisteredEvent
}

type DataFlowDeregistered struct {
	BaseEvent
}

func (e DataFlowDeregistered) GetType() EventType {
	return DataFlowDeregisteredEvent
}

type DataFlowEnabled struct {
	BaseEvent
}

func (e DataFlowEnabled) GetType() EventType {
	return DataFlowEnabledEvent
}

type DataFlowDisabled struct {
	BaseEvent
}

func (e DataFlowDisabled) GetType() EventType {
	return DataFlowDisabledEvent
}

// DataFlowReloaded reports the outcome of rebuilding the active set from storage.
type DataFlowReloaded struct {
	BaseEvent

	Registered int      `json:"registered"`
	Failed     []string `json:"failed,omitempty"`
}

func (e DataFlowReloaded) GetType() EventType {
	return DataFlowReloadedEvent
}

func NewBaseEvent(eventType EventType, dataFlow string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		DataFlow:  dataFlow,
		Metadata:  make(map[string]any),
	}
}
