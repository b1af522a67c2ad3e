// Package models defines the core data structures for inboxd.
//
// It includes types for messages, conversations, and outbox entries, which
// are shared across the store, worker, and gateway modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Direction indicates whether a message flows toward or from the customer.
type Direction string

const (
	// DirectionIn is a message received from the customer's platform.
	DirectionIn Direction = "in"
	// DirectionOut is a message sent by an agent toward the customer.
	DirectionOut Direction = "out"
)

// DeliveryStatus is the agent-visible delivery state of a message.
type DeliveryStatus string

const (
	DeliveryStatusQueued   DeliveryStatus = "queued"
	DeliveryStatusSent     DeliveryStatus = "sent"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusReceived DeliveryStatus = "received"
)

// OutboxStatus represents the lifecycle state of an outbox entry.
//
// Valid transitions are pending -> processing -> {done, failed, pending}.
// A leased entry returns to pending only when it is rescheduled for retry.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusDone       OutboxStatus = "done"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Validation constants for input validation
const (
	// MaxMessageTextLength defines the maximum allowed length for message text
	MaxMessageTextLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyConversation = errors.New("conversation id cannot be empty")
	ErrEmptyText         = errors.New("message text cannot be empty")
	ErrTextTooLong       = errors.New("message text exceeds maximum length")
	ErrInvalidChannelID  = errors.New("channel id must have a platform prefix")
)

// Message represents one message in a conversation, in either direction.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	Direction         Direction      `json:"direction"`
	Text              string         `json:"text"`
	ObjectKey         string         `json:"object_key,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks an outgoing message before it is enqueued.
func (m *Message) Validate() error {
	if m.ConversationID == "" {
		return ErrEmptyConversation
	}
	if m.Text == "" {
		return ErrEmptyText
	}
	if len(m.Text) > MaxMessageTextLength {
		return ErrTextTooLong
	}
	return nil
}

// Conversation ties messages to a customer on a specific platform channel.
//
// ChannelID encodes the platform and the external chat identifier as
// "platform:external-id", e.g. "telegram:123". The platform prefix selects
// the delivery adapter for the conversation's outgoing messages.
type Conversation struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	AssigneeID string    `json:"assignee_id,omitempty"`
	PeerRef    string    `json:"peer_ref"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Platform returns the platform prefix of the conversation's channel id.
func (c *Conversation) Platform() (string, error) {
	return PlatformFromChannelID(c.ChannelID)
}

// PlatformFromChannelID extracts the platform prefix from a channel id of
// the form "platform:external-id".
func PlatformFromChannelID(channelID string) (string, error) {
	platform, rest, ok := strings.Cut(channelID, ":")
	if !ok || platform == "" || rest == "" {
		return "", ErrInvalidChannelID
	}
	return platform, nil
}

// OutboxEntry represents a durable intent-to-send record. It is created in
// the same transaction as its Message and drained by the outbox worker.
type OutboxEntry struct {
	ID          string       `json:"id"`
	MessageID   string       `json:"message_id"`
	Status      OutboxStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
