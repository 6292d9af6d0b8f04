package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/logger"
	domain "github.com/oshokin/procdb/internal/record"
	"github.com/oshokin/procdb/internal/subscription"
)

// Records is the part of the database the transport reads and writes.
type Records interface {
	Snapshot(name string) (database.Snapshot, error)
	GetField(name, field string) (float64, error)
	PutField(name, field string, value float64) error
	EnumLabels(name string) ([]string, error)
	PutEnumLabel(name, label string) error
}

// Processor runs processing cycles on request.
type Processor interface {
	ProcessNow(ctx context.Context, name string) error
}

// Events hands out monitor subscriptions.
type Events interface {
	Subscribe(filter subscription.Filter, buffer int) (*subscription.Subscription, error)
	Unsubscribe(id uuid.UUID)
}

// Server implements RecordService.
type Server struct {
	// records serves Get and Put.
	records Records
	// processor serves Process.
	processor Processor
	// events serves Monitor.
	events Events
}

var _ RecordServiceServer = (*Server)(nil)

// NewServer wires the database, the scheduler and the event hub into a gRPC handler.
func NewServer(records Records, processor Processor, events Events) *Server {
	return &Server{
		records:   records,
		processor: processor,
		events:    events,
	}
}

// Get returns one field, or the record snapshot when no field is named.
func (s *Server) Get(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := recordName(req)
	if err != nil {
		return nil, err
	}

	if field := stringField(req, KeyField); field != "" {
		value, err := s.records.GetField(name, field)
		if err != nil {
			return nil, toStatus(err)
		}

		return &structpb.Struct{Fields: map[string]*structpb.Value{
			KeyRecord: structpb.NewStringValue(name),
			KeyField:  structpb.NewStringValue(field),
			KeyValue:  numberValue(value),
		}}, nil
	}

	snap, err := s.records.Snapshot(name)
	if err != nil {
		return nil, toStatus(err)
	}

	var labels []string
	if snap.HasLabel {
		if labels, err = s.records.EnumLabels(name); err != nil {
			return nil, toStatus(err)
		}
	}

	return snapshotToProto(snap, labels), nil
}

// Put writes a numeric field or selects a state by label.
func (s *Server) Put(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	name, err := recordName(req)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "record", name, "actor", actorOf(ctx))
	fields := req.GetFields()

	if label, ok := fields[KeyLabel]; ok {
		if err = s.records.PutEnumLabel(name, label.GetStringValue()); err != nil {
			return nil, toStatus(err)
		}

		logger.InfoKV(ctx, "State selected by label", "label", label.GetStringValue())

		return new(emptypb.Empty), nil
	}

	field := stringField(req, KeyField)
	if field == "" {
		return nil, status.Error(codes.InvalidArgument, "field or label is required")
	}

	value, ok := fields[KeyValue].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "numeric value is required")
	}

	if err = s.records.PutField(name, field, value.NumberValue); err != nil {
		return nil, toStatus(err)
	}

	logger.InfoKV(ctx, "Field written", "field", field, "value", value.NumberValue)

	return new(emptypb.Empty), nil
}

// Process runs one cycle of the record. A cycle left pending on device
// completion still returns success.
func (s *Server) Process(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	name, err := recordName(req)
	if err != nil {
		return nil, err
	}

	if err = s.processor.ProcessNow(ctx, name); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// Monitor streams events until the client goes away or the hub closes.
func (s *Server) Monitor(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	kind, err := ParseKinds(stringField(req, KeyKinds))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	var names []string
	for _, value := range req.GetFields()[KeyRecords].GetListValue().GetValues() {
		names = append(names, value.GetStringValue())
	}

	buffer := int(req.GetFields()[KeyBuffer].GetNumberValue())

	sub, err := s.events.Subscribe(subscription.Filter{Records: names, Kind: kind}, buffer)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.events.Unsubscribe(sub.ID())

	ctx := logger.WithKV(stream.Context(), "subscription", sub.ID().String())
	logger.DebugKV(ctx, "Monitor subscription opened", "records", names, "kinds", kind.String())

	for {
		select {
		case <-ctx.Done():
			logger.DebugKV(ctx, "Monitor subscription closed", "dropped", sub.Dropped())

			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return status.Error(codes.Unavailable, "event hub closed")
			}

			if err := stream.Send(eventToProto(event)); err != nil {
				return err
			}
		}
	}
}

// actorOf returns the caller identity sent by the CLI, or "unknown".
func actorOf(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "unknown"
	}

	if values := md.Get(ActorMetadataKey); len(values) > 0 && values[0] != "" {
		return values[0]
	}

	return "unknown"
}

func recordName(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", status.Error(codes.InvalidArgument, "request is required")
	}

	name := stringField(req, KeyRecord)
	if name == "" {
		return "", status.Error(codes.InvalidArgument, "record is required")
	}

	return name, nil
}

// toStatus maps the error taxonomy onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, database.ErrRecordNotFound), errors.Is(err, domain.ErrUnknownField):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrReadOnlyField),
		errors.Is(err, domain.ErrBadChoice),
		errors.Is(err, database.ErrNotEnumerated):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrScheduling):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
