package record

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/domain/monitor"
)

// Message keys shared by requests, responses and events.
const (
	KeyRecord    = "record"
	KeyRecords   = "records"
	KeyField     = "field"
	KeyValue     = "value"
	KeyLabel     = "label"
	KeyLabels    = "labels"
	KeyKind      = "kind"
	KeyKinds     = "kinds"
	KeyType      = "type"
	KeyUnits     = "units"
	KeyStatus    = "status"
	KeySeverity  = "severity"
	KeyUndefined = "undefined"
	KeyActive    = "active"
	KeyTimestamp = "timestamp"
	KeyBuffer    = "buffer"
)

// NewGetRequest builds a Get request. An empty field asks for the record snapshot.
func NewGetRequest(name, field string) *structpb.Struct {
	fields := map[string]*structpb.Value{KeyRecord: structpb.NewStringValue(name)}
	if field != "" {
		fields[KeyField] = structpb.NewStringValue(field)
	}

	return &structpb.Struct{Fields: fields}
}

// NewPutRequest builds a Put request writing a numeric field.
func NewPutRequest(name, field string, value float64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		KeyRecord: structpb.NewStringValue(name),
		KeyField:  structpb.NewStringValue(field),
		KeyValue:  structpb.NewNumberValue(value),
	}}
}

// NewPutLabelRequest builds a Put request selecting a state by label.
func NewPutLabelRequest(name, label string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		KeyRecord: structpb.NewStringValue(name),
		KeyLabel:  structpb.NewStringValue(label),
	}}
}

// NewProcessRequest builds a Process request.
func NewProcessRequest(name string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		KeyRecord: structpb.NewStringValue(name),
	}}
}

// NewMonitorRequest builds a Monitor request. No names means every record,
// a zero kind means every event.
func NewMonitorRequest(names []string, kind monitor.Kind) *structpb.Struct {
	records := make([]*structpb.Value, 0, len(names))
	for _, name := range names {
		records = append(records, structpb.NewStringValue(name))
	}

	fields := map[string]*structpb.Value{
		KeyRecords: structpb.NewListValue(&structpb.ListValue{Values: records}),
	}

	if kind != 0 {
		fields[KeyKinds] = structpb.NewStringValue(kind.String())
	}

	return &structpb.Struct{Fields: fields}
}

// ParseKinds parses a "value|archive|alarm" mask. Empty means every kind.
func ParseKinds(s string) (monitor.Kind, error) {
	var kind monitor.Kind

	for part := range strings.SplitSeq(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "value":
			kind |= monitor.ValueChanged
		case "archive":
			kind |= monitor.ArchiveChanged
		case "alarm":
			kind |= monitor.AlarmChanged
		default:
			return 0, fmt.Errorf("unknown event kind %q", part)
		}
	}

	return kind, nil
}

// stringField returns the string under key, trimmed.
func stringField(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

// numberValue renders a float, mapping non-finite values to strings
// because JSON numbers cannot carry them.
func numberValue(value float64) *structpb.Value {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return structpb.NewStringValue(fmt.Sprint(value))
	}

	return structpb.NewNumberValue(value)
}

// NumberOf reads a value rendered by the server back into a float.
func NumberOf(value *structpb.Value) float64 {
	if number, ok := value.GetKind().(*structpb.Value_NumberValue); ok {
		return number.NumberValue
	}

	switch value.GetStringValue() {
	case "+Inf":
		return math.Inf(1)
	case "-Inf":
		return math.Inf(-1)
	default:
		return math.NaN()
	}
}

func snapshotToProto(snap database.Snapshot, labels []string) *structpb.Struct {
	fields := map[string]*structpb.Value{
		KeyRecord:    structpb.NewStringValue(snap.Name),
		KeyType:      structpb.NewStringValue(snap.Kind.String()),
		KeyValue:     numberValue(snap.Value),
		KeyStatus:    structpb.NewStringValue(snap.Status),
		KeySeverity:  structpb.NewStringValue(snap.Severity),
		KeyUndefined: structpb.NewBoolValue(snap.Undefined),
		KeyActive:    structpb.NewBoolValue(snap.Active),
	}

	if !snap.Timestamp.IsZero() {
		fields[KeyTimestamp] = structpb.NewStringValue(snap.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	if snap.Units != "" {
		fields[KeyUnits] = structpb.NewStringValue(snap.Units)
	}

	if snap.HasLabel {
		fields[KeyLabel] = structpb.NewStringValue(snap.Label)

		values := make([]*structpb.Value, 0, len(labels))
		for _, label := range labels {
			values = append(values, structpb.NewStringValue(label))
		}

		fields[KeyLabels] = structpb.NewListValue(&structpb.ListValue{Values: values})
	}

	return &structpb.Struct{Fields: fields}
}

func eventToProto(event monitor.Event) *structpb.Struct {
	fields := map[string]*structpb.Value{
		KeyRecord:   structpb.NewStringValue(event.Record),
		KeyField:    structpb.NewStringValue(event.Field),
		KeyKind:     structpb.NewStringValue(event.Kind.String()),
		KeyValue:    numberValue(event.Value),
		KeyStatus:   structpb.NewStringValue(event.Status.String()),
		KeySeverity: structpb.NewStringValue(event.Severity.String()),
	}

	if !event.Timestamp.IsZero() {
		fields[KeyTimestamp] = structpb.NewStringValue(event.Timestamp.UTC().Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}
}
