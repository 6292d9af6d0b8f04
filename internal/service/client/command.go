package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/procdb/internal/api/grpc/record"
	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/service/common"
)

// Options configures the procdb-cli operations.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string

	// Output receives rendered responses and events.
	Output io.Writer
}

// defaultRetryInterval is the delay before a broken monitor stream is reopened.
const defaultRetryInterval = 1 * time.Second

var errInvalidValue = errors.New("value must be a number")

// connect loads settings and dials the server.
func connect(ctx context.Context, opts *Options) (*common.Client, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for audit logging.
	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect actor", "error", err)
	}

	return common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout), common.WithActor(actor))
}

// Get prints the snapshot of a record, or one field of it.
func Get(ctx context.Context, opts *Options, name, field string) error {
	ctx = logger.WithName(ctx, "procdb-cli")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	resp, err := client.Get(ctx, name, field)
	if err != nil {
		return err
	}

	return render(opts.Output, resp)
}

// Put writes a field. A non-numeric value on a labeled record selects the
// state carrying that label when field is VAL.
func Put(ctx context.Context, opts *Options, name, field, value string) error {
	ctx = logger.WithName(ctx, "procdb-cli")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	number, parseErr := strconv.ParseFloat(value, 64)
	if parseErr == nil {
		return client.Put(ctx, name, field, number)
	}

	if field != "VAL" {
		return fmt.Errorf("%s.%s: %w", name, field, errInvalidValue)
	}

	return client.PutLabel(ctx, name, value)
}

// Process requests one processing cycle of a record.
func Process(ctx context.Context, opts *Options, name string) error {
	ctx = logger.WithName(ctx, "procdb-cli")

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	if err = client.Process(ctx, name); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Processing requested", "record", name)

	return nil
}

// Monitor prints events until ctx is done. A broken stream is reopened
// after a short delay.
func Monitor(ctx context.Context, opts *Options, names []string, kinds string) error {
	ctx = logger.WithName(ctx, "procdb-cli")

	kind, err := api.ParseKinds(kinds)
	if err != nil {
		return err
	}

	client, err := connect(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		_ = client.Close()
	}()

	handle := func(event *structpb.Struct) error {
		_, err := fmt.Fprintln(opts.Output, formatEvent(event))

		return err
	}

	ticker := time.NewTicker(defaultRetryInterval)
	defer ticker.Stop()

	for {
		err = client.Monitor(ctx, names, kind, handle)
		if err == nil || ctx.Err() != nil {
			return nil //nolint:nilerr // Cancellation ends monitoring normally.
		}

		if status.Code(err) == codes.InvalidArgument {
			return err
		}

		logger.ErrorKV(ctx, "Monitor stream failed, retrying", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// render writes a response as indented JSON.
func render(w io.Writer, msg *structpb.Struct) error {
	data, err := protojson.MarshalOptions{Multiline: true}.Marshal(msg)
	if err != nil {
		return fmt.Errorf("render response: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

// formatEvent renders one event as a single line.
func formatEvent(event *structpb.Struct) string {
	fields := event.GetFields()

	return fmt.Sprintf("%s %s.%s = %v [%s] %s/%s",
		fields[api.KeyTimestamp].GetStringValue(),
		fields[api.KeyRecord].GetStringValue(),
		fields[api.KeyField].GetStringValue(),
		api.NumberOf(fields[api.KeyValue]),
		fields[api.KeyKind].GetStringValue(),
		fields[api.KeyStatus].GetStringValue(),
		fields[api.KeySeverity].GetStringValue(),
	)
}
