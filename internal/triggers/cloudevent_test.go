package triggers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

const docRoot = "projects/p/databases/(default)/documents/"

func str(s string) *firestoredata.Value {
	return &firestoredata.Value{ValueType: &firestoredata.Value_StringValue{StringValue: s}}
}

func channelDoc(status string) *firestoredata.Document {
	return &firestoredata.Document{
		Name: docRoot + "channels/abc",
		Fields: map[string]*firestoredata.Value{
			"status":        str(status),
			"channelNumber": {ValueType: &firestoredata.Value_IntegerValue{IntegerValue: 7}},
			"thumbnails": {ValueType: &firestoredata.Value_MapValue{MapValue: &firestoredata.MapValue{
				Fields: map[string]*firestoredata.Value{"url": str("https://x")},
			}}},
			"tags": {ValueType: &firestoredata.Value_ArrayValue{ArrayValue: &firestoredata.ArrayValue{
				Values: []*firestoredata.Value{str("a"), {ValueType: &firestoredata.Value_BooleanValue{BooleanValue: true}}},
			}}},
			"lastUpdated": {ValueType: &firestoredata.Value_TimestampValue{TimestampValue: timestamppb.New(time.Unix(1700000000, 0))}},
		},
		CreateTime: timestamppb.New(time.Unix(1690000000, 0)),
	}
}

func binaryHeaders(typ, contentType string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("ce-id", "evt-1")
	h.Set("ce-type", typ)
	h.Set("ce-subject", "documents/channels/abc")
	h.Set("ce-time", "2025-03-01T12:00:00Z")
	return h
}

func TestParseFirestoreEvent_BinaryProtobuf(t *testing.T) {
	body, err := proto.Marshal(&firestoredata.DocumentEventData{
		OldValue: channelDoc("pending"),
		Value:    channelDoc("new"),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := ParseFirestoreEvent(binaryHeaders(TypeUpdated, "application/protobuf"), body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt-1" || ev.Trigger != pipeline.ChannelUpdated || ev.Path != "channels/abc" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.BeforeStatus() != "pending" || ev.AfterStatus() != "new" {
		t.Fatalf("statuses %q -> %q", ev.BeforeStatus(), ev.AfterStatus())
	}
	if got := ev.After.Data["channelNumber"]; got != int64(7) {
		t.Fatalf("channelNumber = %#v", got)
	}
	thumbs, _ := ev.After.Data["thumbnails"].(map[string]any)
	if thumbs["url"] != "https://x" {
		t.Fatalf("nested map not decoded: %#v", ev.After.Data["thumbnails"])
	}
	tags, _ := ev.After.Data["tags"].([]any)
	if len(tags) != 2 || tags[1] != true {
		t.Fatalf("array not decoded: %#v", ev.After.Data["tags"])
	}
	if _, ok := ev.After.Data["lastUpdated"].(time.Time); !ok {
		t.Fatalf("timestamp not decoded: %#v", ev.After.Data["lastUpdated"])
	}
	if ev.After.CreateTime.Unix() != 1690000000 {
		t.Fatalf("create time = %v", ev.After.CreateTime)
	}
	if !ev.Time.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("event time = %v", ev.Time)
	}
}

func TestParseFirestoreEvent_BinaryJSONQueryCreate(t *testing.T) {
	doc := &firestoredata.Document{
		Name:   docRoot + "channels/abc/queries/q03",
		Fields: map[string]*firestoredata.Value{"status": str("new"), "queryText": str("knife skills")},
	}
	body, err := protojson.Marshal(&firestoredata.DocumentEventData{Value: doc})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h := binaryHeaders(TypeCreated, "application/json; charset=utf-8")
	h.Set("ce-subject", "documents/channels/abc/queries/q03")
	ev, err := ParseFirestoreEvent(h, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Trigger != pipeline.QueryCreated || ev.Ref.ChannelID != "abc" || ev.Ref.ChildID != "q03" || ev.Before != nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseFirestoreEvent_StructuredWritten(t *testing.T) {
	data, err := protojson.Marshal(&firestoredata.DocumentEventData{Value: channelDoc("pending")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, _ := json.Marshal(map[string]any{
		"id":      "evt-2",
		"type":    TypeWritten,
		"subject": "documents/channels/abc",
		"data":    json.RawMessage(data),
	})
	h := http.Header{}
	h.Set("Content-Type", "application/cloudevents+json")
	ev, err := ParseFirestoreEvent(h, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt-2" || ev.Trigger != pipeline.ChannelCreated {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseFirestoreEvent_Ignored(t *testing.T) {
	body, _ := proto.Marshal(&firestoredata.DocumentEventData{OldValue: channelDoc("new")})
	if _, err := ParseFirestoreEvent(binaryHeaders(TypeDeleted, "application/protobuf"), body); !errors.Is(err, ErrIgnored) {
		t.Fatalf("delete: expected ErrIgnored, got %v", err)
	}
	if _, err := ParseFirestoreEvent(binaryHeaders(TypeWritten, "application/protobuf"), body); !errors.Is(err, ErrIgnored) {
		t.Fatalf("written delete: expected ErrIgnored, got %v", err)
	}

	h := binaryHeaders(TypeUpdated, "application/protobuf")
	h.Set("ce-subject", "documents/counters/channels")
	if _, err := ParseFirestoreEvent(h, nil); !errors.Is(err, ErrIgnored) {
		t.Fatalf("counter: expected ErrIgnored, got %v", err)
	}
}

func TestParseFirestoreEvent_Rejects(t *testing.T) {
	h := binaryHeaders(TypeUpdated, "application/protobuf")
	h.Del("ce-id")
	if _, err := ParseFirestoreEvent(h, nil); err == nil || errors.Is(err, ErrIgnored) {
		t.Fatalf("missing id: got %v", err)
	}
	if _, err := ParseFirestoreEvent(binaryHeaders("google.cloud.pubsub.topic.v1.messagePublished", ""), nil); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := ParseFirestoreEvent(binaryHeaders(TypeUpdated, "application/protobuf"), []byte{0xff, 0xff}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDocumentPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"documents/channels/a", "channels/a"},
		{docRoot + "channels/a/videos/v", "channels/a/videos/v"},
		{"channels/a", "channels/a"},
	}
	for _, c := range cases {
		if got := documentPath(c.in); got != c.want {
			t.Fatalf("documentPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
