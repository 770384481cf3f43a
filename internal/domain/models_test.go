package domain

import (
	"reflect"
	"testing"
)

func TestPlaybackStatusConstants(t *testing.T) {
	tests := []struct {
		got  PlaybackStatus
		want string
	}{
		{StatusInitial, "initial"},
		{StatusPrepared, "prepared"},
		{StatusBuffering, "buffering"},
		{StatusPlaying, "playing"},
		{StatusPaused, "paused"},
		{StatusEnded, "ended"},
		{StatusFailed, "failed"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Fatalf("status = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestRangeJSONTags(t *testing.T) {
	expectJSONTag(t, Range{}, "Off", "off")
	expectJSONTag(t, Range{}, "Length", "length")
}

func TestContentInfoJSONTags(t *testing.T) {
	expectJSONTag(t, ContentInfo{}, "TotalLength", "totalLength")
	expectJSONTag(t, ContentInfo{}, "ContentType", "contentType")
	expectJSONTag(t, ContentInfo{}, "AcceptsRanges", "acceptsRanges")
}

func TestWatchPositionJSONTags(t *testing.T) {
	expectJSONTag(t, WatchPosition{}, "Source", "source")
	expectJSONTag(t, WatchPosition{}, "Position", "position")
	expectJSONTag(t, WatchPosition{}, "Duration", "duration")
	expectJSONTag(t, WatchPosition{}, "UpdatedAt", "updatedAt")
}

func TestContentInfoKnownLength(t *testing.T) {
	if (ContentInfo{TotalLength: -1}).KnownLength() {
		t.Fatal("-1 should be unknown")
	}
	if !(ContentInfo{TotalLength: 0}).KnownLength() {
		t.Fatal("0 should be known (empty resource)")
	}
}

func expectJSONTag(t *testing.T, v interface{}, fieldName, want string) {
	t.Helper()
	typ := reflect.TypeOf(v)
	field, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("missing field %s", fieldName)
	}
	if got := field.Tag.Get("json"); got != want {
		t.Fatalf("%s json tag = %q, want %q", fieldName, got, want)
	}
}
