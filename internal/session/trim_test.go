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

package session

import (
	"fmt"
	"testing"
	"time"
)

func sessionWithMessages(n int) *Session {
	now := time.Now().Truncate(time.Second)
	s := &Session{
		ID:        "sess-1",
		UserID:    "user-1",
		AgentID:   "agent-1",
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0, n),
	}
	for i := 0; i < n; i++ {
		s.Messages = append(s.Messages, Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Type:      MessageTypeUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}
	return s
}

func TestTrimForHotStorage_UnderLimit(t *testing.T) {
	s := sessionWithMessages(10)
	got := TrimForHotStorage(s, 50)

	if len(got.Messages) != 10 {
		t.Fatalf("Messages len = %d, want 10", len(got.Messages))
	}
	if got.Metadata != nil {
		t.Errorf("Metadata = %v, want nil (no truncation markers)", got.Metadata)
	}
	if trimmed, _ := WasTrimmed(got); trimmed {
		t.Error("WasTrimmed = true, want false")
	}
}

func TestTrimForHotStorage_OverLimit(t *testing.T) {
	s := sessionWithMessages(80)
	got := TrimForHotStorage(s, 50)

	if len(got.Messages) != 50 {
		t.Fatalf("Messages len = %d, want 50", len(got.Messages))
	}
	// Most recent 50 are kept: msg-30 .. msg-79.
	if got.Messages[0].ID != "msg-30" {
		t.Errorf("first kept message = %q, want %q", got.Messages[0].ID, "msg-30")
	}
	if got.Messages[49].ID != "msg-79" {
		t.Errorf("last kept message = %q, want %q", got.Messages[49].ID, "msg-79")
	}

	trimmed, orig := WasTrimmed(got)
	if !trimmed {
		t.Fatal("WasTrimmed = false, want true")
	}
	if orig != 80 {
		t.Errorf("original count = %d, want 80", orig)
	}

	// Source session is untouched.
	if len(s.Messages) != 80 {
		t.Errorf("source Messages len = %d, want 80", len(s.Messages))
	}
	if s.Metadata != nil {
		t.Errorf("source Metadata = %v, want nil", s.Metadata)
	}
}

func TestTrimForHotStorage_ZeroDisables(t *testing.T) {
	s := sessionWithMessages(80)
	got := TrimForHotStorage(s, 0)
	if len(got.Messages) != 80 {
		t.Fatalf("Messages len = %d, want 80", len(got.Messages))
	}
}

func TestTrimForHotStorage_ExactLimit(t *testing.T) {
	s := sessionWithMessages(50)
	got := TrimForHotStorage(s, 50)
	if len(got.Messages) != 50 {
		t.Fatalf("Messages len = %d, want 50", len(got.Messages))
	}
	if trimmed, _ := WasTrimmed(got); trimmed {
		t.Error("WasTrimmed = true for exact-limit session, want false")
	}
}

func TestTrimForHotStorage_DeepCopy(t *testing.T) {
	s := sessionWithMessages(5)
	s.Messages[4].ToolCalls = []ToolCall{{
		ID:         "tc-1",
		Name:       "search",
		Parameters: map[string]any{"q": "tide tables"},
		Status:     ToolCallPending,
	}}

	got := TrimForHotStorage(s, 3)
	got.Messages[len(got.Messages)-1].ToolCalls[0].Status = ToolCallCompleted
	got.Messages[len(got.Messages)-1].ToolCalls[0].Parameters["q"] = "changed"

	if s.Messages[4].ToolCalls[0].Status != ToolCallPending {
		t.Error("mutating the trimmed copy changed the source tool call status")
	}
	if s.Messages[4].ToolCalls[0].Parameters["q"] != "tide tables" {
		t.Error("mutating the trimmed copy changed the source tool call parameters")
	}
}

func TestWasTrimmed_JSONNumbers(t *testing.T) {
	s := &Session{Metadata: map[string]any{
		MetaTrimmedForHotStorage: true,
		MetaOriginalMessageCount: float64(80),
	}}
	trimmed, orig := WasTrimmed(s)
	if !trimmed || orig != 80 {
		t.Errorf("WasTrimmed = (%v, %d), want (true, 80)", trimmed, orig)
	}
}
