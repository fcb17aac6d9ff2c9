/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package session defines the session and message data model shared by the
// hot and durable storage tiers.
package session

import (
	"errors"
	"time"
)

// Common errors returned by session store implementations.
var (
	// ErrSessionNotFound is returned when a session does not exist in a tier.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound is returned when a message ID does not exist within a session.
	ErrMessageNotFound = errors.New("message not found")
	// ErrInvalidSessionID is returned when a session ID is invalid.
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// MessageType identifies the sender of a message.
type MessageType string

const (
	// MessageTypeUser is a message authored by the end user.
	MessageTypeUser MessageType = "user"
	// MessageTypeAgent is a message produced by an agent.
	MessageTypeAgent MessageType = "agent"
	// MessageTypeSystem is a system-generated message.
	MessageTypeSystem MessageType = "system"
)

// ToolCallStatus is the lifecycle state of a tool invocation.
type ToolCallStatus string

const (
	// ToolCallPending indicates the tool call has been issued but not started.
	ToolCallPending ToolCallStatus = "pending"
	// ToolCallRunning indicates the tool call is executing.
	ToolCallRunning ToolCallStatus = "running"
	// ToolCallCompleted indicates the tool call finished successfully.
	ToolCallCompleted ToolCallStatus = "completed"
	// ToolCallFailed indicates the tool call finished with an error.
	ToolCallFailed ToolCallStatus = "failed"
)

// Metadata keys written by the tiered store when it truncates a message list
// for hot-tier storage.
const (
	// MetaTrimmedForHotStorage is set to true on a session whose message list
	// was truncated before being written to the hot tier.
	MetaTrimmedForHotStorage = "trimmedForHotStorage"
	// MetaOriginalMessageCount records the pre-truncation message count.
	MetaOriginalMessageCount = "originalMessageCount"
)

// ToolCall is a single tool invocation attached to a message.
type ToolCall struct {
	// ID is the unique identifier for this tool call.
	ID string `json:"id"`
	// Name is the tool name.
	Name string `json:"name"`
	// Parameters holds the invocation arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Status is the current lifecycle state.
	Status ToolCallStatus `json:"status"`
	// Result holds the tool output once the call completes.
	Result any `json:"result,omitempty"`
}

// Message is a single entry in a conversation.
type Message struct {
	// ID is unique within the owning session and is the sole key used for
	// in-place updates.
	ID string `json:"id"`
	// Type indicates who sent the message.
	Type MessageType `json:"type"`
	// Content is the text payload.
	Content string `json:"content"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// Agent is the originating agent identifier, if any.
	Agent string `json:"agent,omitempty"`
	// Streaming is true while content is still being produced. A message is
	// complete only when false.
	Streaming bool `json:"streaming,omitempty"`
	// ToolCalls is an ordered list of tool invocations.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Session is an agent conversation owned by a user.
type Session struct {
	// ID is the unique session identifier, minted by the hot tier.
	ID string `json:"id"`
	// UserID is the owning user identity.
	UserID string `json:"userId"`
	// AgentID is the owning agent identity.
	AgentID string `json:"agentId"`
	// Title is a short human-readable label, surfaced in search results.
	Title string `json:"title,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session was last mutated. It is the basis for
	// idle detection during archival.
	UpdatedAt time.Time `json:"updatedAt"`
	// Messages is the conversation history in insertion order. Ordering is
	// never changed after assignment; messages are only appended or updated
	// in place by ID.
	Messages []Message `json:"messages"`
	// Metadata is an open key-value bag. The tiered store adds
	// MetaTrimmedForHotStorage and MetaOriginalMessageCount when truncating.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MessageUpdate is a partial update applied to a message by ID. Nil pointer
// fields leave the corresponding message field unchanged.
type MessageUpdate struct {
	// Content replaces the message content.
	Content *string `json:"content,omitempty"`
	// AppendContent is concatenated onto the existing content. Used for
	// streaming token accumulation.
	AppendContent *string `json:"appendContent,omitempty"`
	// Streaming replaces the streaming flag.
	Streaming *bool `json:"streaming,omitempty"`
	// Agent replaces the originating agent identifier.
	Agent *string `json:"agent,omitempty"`
	// ToolCalls replaces the tool call list when non-nil.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// IsZero reports whether the update would not change any field.
func (u MessageUpdate) IsZero() bool {
	return u.Content == nil && u.AppendContent == nil && u.Streaming == nil &&
		u.Agent == nil && u.ToolCalls == nil
}

// Apply mutates m according to the update.
func (m *Message) Apply(u MessageUpdate) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.AppendContent != nil {
		m.Content += *u.AppendContent
	}
	if u.Streaming != nil {
		m.Streaming = *u.Streaming
	}
	if u.Agent != nil {
		m.Agent = *u.Agent
	}
	if u.ToolCalls != nil {
		m.ToolCalls = cloneToolCalls(u.ToolCalls)
	}
}

// FindMessage returns the index of the message with the given ID, or -1.
func (s *Session) FindMessage(messageID string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := &Session{
		ID:        s.ID,
		UserID:    s.UserID,
		AgentID:   s.AgentID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Messages:  make([]Message, len(s.Messages)),
	}

	for i, msg := range s.Messages {
		cp.Messages[i] = msg
		cp.Messages[i].ToolCalls = cloneToolCalls(msg.ToolCalls)
	}

	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}

	return cp
}

func cloneToolCalls(tcs []ToolCall) []ToolCall {
	if tcs == nil {
		return nil
	}
	out := make([]ToolCall, len(tcs))
	for i, tc := range tcs {
		out[i] = tc
		if tc.Parameters != nil {
			out[i].Parameters = make(map[string]any, len(tc.Parameters))
			for k, v := range tc.Parameters {
				out[i].Parameters[k] = v
			}
		}
	}
	return out
}
