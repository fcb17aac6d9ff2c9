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

package pgutil

import (
	"testing"
)

func TestQueryBuilder_Where_Empty(t *testing.T) {
	qb := &QueryBuilder{}
	if got := qb.Where(); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestQueryBuilder_Where_MultipleClauses(t *testing.T) {
	qb := &QueryBuilder{}
	qb.Add("user_id=$?", "alice")
	qb.Add("archived=$?", false)

	want := " AND user_id=$1 AND archived=$2"
	if got := qb.Where(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if len(qb.Args()) != 2 {
		t.Fatalf("expected 2 args, got %d", len(qb.Args()))
	}
	if qb.Args()[0] != "alice" {
		t.Errorf("expected arg[0]=%q, got %v", "alice", qb.Args()[0])
	}
}

func TestQueryBuilder_AppendPagination(t *testing.T) {
	qb := &QueryBuilder{}
	qb.Add("user_id=$?", "alice")

	query := qb.AppendPagination("SELECT 1 WHERE 1=1"+qb.Where(), 10, 20)
	want := "SELECT 1 WHERE 1=1 AND user_id=$1 LIMIT $2 OFFSET $3"
	if query != want {
		t.Errorf("expected %q, got %q", want, query)
	}
	if len(qb.Args()) != 3 {
		t.Fatalf("expected 3 args, got %d", len(qb.Args()))
	}
}

func TestQueryBuilder_AppendPagination_NoLimit(t *testing.T) {
	qb := &QueryBuilder{}
	query := qb.AppendPagination("SELECT 1", 0, 0)
	if query != "SELECT 1" {
		t.Errorf("expected unchanged query, got %q", query)
	}
}

func TestNullString(t *testing.T) {
	if NullString("") != nil {
		t.Error("expected nil for empty string")
	}
	if got := NullString("x"); got == nil || *got != "x" {
		t.Errorf("expected pointer to x, got %v", got)
	}
	if DerefString(nil) != "" {
		t.Error("expected empty string for nil")
	}
	if DerefString(NullString("y")) != "y" {
		t.Error("expected round trip through NullString")
	}
}

func TestJSONBRoundTrip(t *testing.T) {
	if got := string(MarshalJSONB(nil)); got != "{}" {
		t.Errorf("expected {} for nil map, got %q", got)
	}

	m := map[string]any{"count": float64(3), "flag": true}
	got := UnmarshalJSONB(MarshalJSONB(m))
	if got["count"] != float64(3) || got["flag"] != true {
		t.Errorf("round trip mismatch: %v", got)
	}

	if UnmarshalJSONB([]byte("not json")) != nil {
		t.Error("expected nil for invalid JSON")
	}
	if UnmarshalJSONB([]byte("{}")) != nil {
		t.Error("expected nil for empty object")
	}
}
