package domain

import (
	"testing"
	"time"
)

func TestChunkTags(t *testing.T) {
	c := Chunk{Metadata: map[string]string{MetadataKeyTags: "infra, k8s ,, networking"}}
	tags := c.Tags()
	want := []string{"infra", "k8s", "networking"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i], want[i])
		}
	}

	if got := (&Chunk{}).Tags(); got != nil {
		t.Errorf("untagged chunk should return nil, got %v", got)
	}
}

func TestChunkTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Chunk{Metadata: map[string]string{MetadataKeyTimestamp: ts.Format(time.RFC3339)}}

	got, ok := c.Timestamp()
	if !ok || !got.Equal(ts) {
		t.Fatalf("Timestamp() = %v, %v; want %v, true", got, ok, ts)
	}

	if _, ok := (&Chunk{}).Timestamp(); ok {
		t.Error("chunk without timestamp metadata should report ok=false")
	}
	bad := Chunk{Metadata: map[string]string{MetadataKeyTimestamp: "not a time"}}
	if _, ok := bad.Timestamp(); ok {
		t.Error("unparseable timestamp should report ok=false")
	}
}

func TestTimeRangeContains(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tr := TimeRange{Start: start, End: end}

	if !tr.Contains(start) {
		t.Error("start is inside the half-open range")
	}
	if tr.Contains(end) {
		t.Error("end is outside the half-open range")
	}
	if tr.Contains(start.Add(-time.Second)) {
		t.Error("before start should be outside")
	}

	unbounded := TimeRange{Start: start}
	if !unbounded.Contains(end.AddDate(10, 0, 0)) {
		t.Error("zero End should be unbounded")
	}
	if !(TimeRange{}).Contains(start) {
		t.Error("zero range contains everything")
	}
}

func TestRankSum(t *testing.T) {
	r := RetrievedResult{SourceRanks: map[string]int{SourceVector: 2, SourceBM25: 5}}
	if got := r.RankSum(); got != 7 {
		t.Errorf("RankSum() = %d, want 7", got)
	}
	empty := RetrievedResult{}
	if got := empty.RankSum(); got != 0 {
		t.Errorf("empty RankSum() = %d, want 0", got)
	}
}

func TestFeedbackKindValid(t *testing.T) {
	if !FeedbackPositive.Valid() || !FeedbackNegative.Valid() {
		t.Error("known feedback kinds must be valid")
	}
	if FeedbackKind("meh").Valid() {
		t.Error("unknown feedback kind must be invalid")
	}
}
