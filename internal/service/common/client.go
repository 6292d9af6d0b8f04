//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/procdb/internal/api/grpc/record"
	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/domain/monitor"
)

// Client wraps the RecordService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the server.
	conn *grpc.ClientConn
	// api is the RecordService client stub.
	api api.RecordServiceClient

	// callTimeout is the default timeout for individual unary calls.
	callTimeout time.Duration
	// actor is sent with every call for the server audit log.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sets the caller identity sent to the server.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errRecordRequired is returned when no record name is given.
	errRecordRequired = errors.New("record must be provided")
)

// Dial establishes a gRPC connection to the record server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial record server: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewRecordServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Get returns the snapshot of a record, or one field when field is set.
func (c *Client) Get(ctx context.Context, name, field string) (*structpb.Struct, error) {
	if name == "" {
		return nil, errRecordRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.Get(callCtx, api.NewGetRequest(name, field))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}

	return resp, nil
}

// Put writes a numeric field.
func (c *Client) Put(ctx context.Context, name, field string, value float64) error {
	if name == "" {
		return errRecordRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Put(callCtx, api.NewPutRequest(name, field, value)); err != nil {
		return fmt.Errorf("put %s.%s: %w", name, field, err)
	}

	return nil
}

// PutLabel selects the state carrying label.
func (c *Client) PutLabel(ctx context.Context, name, label string) error {
	if name == "" {
		return errRecordRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Put(callCtx, api.NewPutLabelRequest(name, label)); err != nil {
		return fmt.Errorf("put %s label: %w", name, err)
	}

	return nil
}

// Process requests one processing cycle.
func (c *Client) Process(ctx context.Context, name string) error {
	if name == "" {
		return errRecordRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.api.Process(callCtx, api.NewProcessRequest(name)); err != nil {
		return fmt.Errorf("process %s: %w", name, err)
	}

	return nil
}

// Monitor streams events to handle until ctx is done or handle fails.
// The stream has no call timeout.
func (c *Client) Monitor(
	ctx context.Context,
	names []string,
	kind monitor.Kind,
	handle func(*structpb.Struct) error,
) error {
	stream, err := c.api.Monitor(c.withActor(ctx), api.NewMonitorRequest(names, kind))
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	for {
		event, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("monitor: %w", err)
		}

		if err = handle(event); err != nil {
			return err
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.withActor(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) withActor(ctx context.Context) context.Context {
	if c.actor == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, api.ActorMetadataKey, c.actor)
}
