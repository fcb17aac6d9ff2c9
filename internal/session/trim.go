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

// TrimForHotStorage returns a deep copy of s with the message list truncated
// to the most recent maxMessages entries. When truncation occurs the copy's
// metadata records the original message count under MetaOriginalMessageCount
// and sets MetaTrimmedForHotStorage to true.
//
// A maxMessages of zero or less disables truncation. The input session is
// never modified; the returned copy shares no mutable state with it.
func TrimForHotStorage(s *Session, maxMessages int) *Session {
	cp := s.Clone()
	if maxMessages <= 0 || len(s.Messages) <= maxMessages {
		return cp
	}

	if cp.Metadata == nil {
		cp.Metadata = make(map[string]any, 2)
	}
	cp.Metadata[MetaOriginalMessageCount] = len(s.Messages)
	cp.Metadata[MetaTrimmedForHotStorage] = true
	cp.Messages = cp.Messages[len(cp.Messages)-maxMessages:]
	return cp
}

// WasTrimmed reports whether the session carries the hot-storage truncation
// marker, and the original message count when it does.
func WasTrimmed(s *Session) (bool, int) {
	if s.Metadata == nil {
		return false, 0
	}
	trimmed, _ := s.Metadata[MetaTrimmedForHotStorage].(bool)
	if !trimmed {
		return false, 0
	}
	switch n := s.Metadata[MetaOriginalMessageCount].(type) {
	case int:
		return true, n
	case int64:
		return true, int(n)
	case float64:
		// JSON round-trips store numbers as float64.
		return true, int(n)
	}
	return true, 0
}
