// Package triggers turns platform deliveries into pipeline events: Eventarc Firestore
// CloudEvents over HTTP, the memstore change feed in local mode, and cron ticks.
package triggers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
)

const (
	TypeCreated = "google.cloud.firestore.document.v1.created"
	TypeUpdated = "google.cloud.firestore.document.v1.updated"
	TypeDeleted = "google.cloud.firestore.document.v1.deleted"
	TypeWritten = "google.cloud.firestore.document.v1.written"

	contentTypeStructured = "application/cloudevents+json"
)

// ErrIgnored marks a well-formed delivery no stage listens to (deletes, paths outside the
// channel tree). Callers acknowledge it so the platform stops redelivering.
var ErrIgnored = errors.New("triggers: event ignored")

type structuredEnvelope struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
	DataBase64      string          `json:"data_base64"`
}

// ParseFirestoreEvent decodes an Eventarc Firestore delivery. Binary mode carries the
// attributes in ce-* headers and a DocumentEventData body (protobuf or JSON); structured mode
// carries everything in one JSON envelope.
func ParseFirestoreEvent(h http.Header, body []byte) (pipeline.Event, error) {
	mediaType, _, _ := mime.ParseMediaType(h.Get("Content-Type"))

	var (
		id, typ, subject, at string
		data                 []byte
		dataJSON             bool
	)
	if mediaType == contentTypeStructured {
		var env structuredEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return pipeline.Event{}, fmt.Errorf("decode cloudevent envelope: %w", err)
		}
		id, typ, subject, at = env.ID, env.Type, env.Subject, env.Time
		switch {
		case env.DataBase64 != "":
			raw, err := base64.StdEncoding.DecodeString(env.DataBase64)
			if err != nil {
				return pipeline.Event{}, fmt.Errorf("decode data_base64: %w", err)
			}
			data = raw
		case len(env.Data) > 0:
			data, dataJSON = env.Data, true
		}
	} else {
		id, typ, subject, at = h.Get("ce-id"), h.Get("ce-type"), h.Get("ce-subject"), h.Get("ce-time")
		data = body
		dataJSON = mediaType == "application/json"
	}
	if strings.TrimSpace(id) == "" {
		return pipeline.Event{}, fmt.Errorf("missing cloudevent id")
	}

	var payload firestoredata.DocumentEventData
	if len(data) > 0 {
		var err error
		if dataJSON {
			err = protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, &payload)
		} else {
			err = proto.Unmarshal(data, &payload)
		}
		if err != nil {
			return pipeline.Event{}, fmt.Errorf("decode DocumentEventData: %w", err)
		}
	}

	before := snapshotOf(payload.GetOldValue())
	after := snapshotOf(payload.GetValue())

	var kind pipeline.Kind
	switch typ {
	case TypeCreated:
		kind = pipeline.Created
	case TypeUpdated:
		kind = pipeline.Updated
	case TypeWritten:
		switch {
		case after == nil:
			return pipeline.Event{}, fmt.Errorf("%w: delete of %s", ErrIgnored, subject)
		case before == nil:
			kind = pipeline.Created
		default:
			kind = pipeline.Updated
		}
	case TypeDeleted:
		return pipeline.Event{}, fmt.Errorf("%w: delete of %s", ErrIgnored, subject)
	default:
		return pipeline.Event{}, fmt.Errorf("unsupported cloudevent type %q", typ)
	}

	path := documentPath(subject)
	if path == "" && after != nil {
		path = after.Path
	}
	if path == "" && before != nil {
		path = before.Path
	}
	ev, err := pipeline.NewDocumentEvent(id, kind, path, before, after)
	if err != nil {
		return pipeline.Event{}, fmt.Errorf("%w: %v", ErrIgnored, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
		ev.Time = t
	}
	return ev, nil
}

// documentPath strips everything up to and including "documents/" from a subject or a full
// resource name.
func documentPath(name string) string {
	name = strings.Trim(name, "/")
	if i := strings.Index(name, "/documents/"); i >= 0 {
		return name[i+len("/documents/"):]
	}
	return strings.TrimPrefix(name, "documents/")
}

func snapshotOf(d *firestoredata.Document) *docstore.Snapshot {
	if d == nil || d.GetName() == "" {
		return nil
	}
	path := documentPath(d.GetName())
	snap := &docstore.Snapshot{
		Path:   path,
		ID:     docstore.ID(path),
		Exists: true,
		Data:   decodeFields(d.GetFields()),
	}
	if ts := d.GetCreateTime(); ts != nil {
		snap.CreateTime = ts.AsTime()
	}
	if ts := d.GetUpdateTime(); ts != nil {
		snap.UpdateTime = ts.AsTime()
	}
	return snap
}

func decodeFields(fields map[string]*firestoredata.Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = decodeValue(v)
	}
	return out
}

// decodeValue maps Firestore wire values to the Go types the docstore implementations hand
// out: int64, float64, string, bool, time.Time, []any and map[string]any.
func decodeValue(v *firestoredata.Value) any {
	if v == nil {
		return nil
	}
	switch t := v.GetValueType().(type) {
	case *firestoredata.Value_NullValue:
		return nil
	case *firestoredata.Value_BooleanValue:
		return t.BooleanValue
	case *firestoredata.Value_IntegerValue:
		return t.IntegerValue
	case *firestoredata.Value_DoubleValue:
		return t.DoubleValue
	case *firestoredata.Value_TimestampValue:
		return t.TimestampValue.AsTime()
	case *firestoredata.Value_StringValue:
		return t.StringValue
	case *firestoredata.Value_BytesValue:
		return t.BytesValue
	case *firestoredata.Value_ReferenceValue:
		return t.ReferenceValue
	case *firestoredata.Value_GeoPointValue:
		return map[string]any{
			"latitude":  t.GeoPointValue.GetLatitude(),
			"longitude": t.GeoPointValue.GetLongitude(),
		}
	case *firestoredata.Value_ArrayValue:
		vals := t.ArrayValue.GetValues()
		out := make([]any, 0, len(vals))
		for _, item := range vals {
			out = append(out, decodeValue(item))
		}
		return out
	case *firestoredata.Value_MapValue:
		return decodeFields(t.MapValue.GetFields())
	default:
		return nil
	}
}
