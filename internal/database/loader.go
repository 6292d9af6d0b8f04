package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/procdb/internal/completion"
	"github.com/oshokin/procdb/internal/device"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/record"
	"github.com/oshokin/procdb/internal/variant/decode"
	"github.com/oshokin/procdb/internal/variant/selector"
)

// ScanPassive marks records processed only on request or through forward links.
const ScanPassive = "passive"

var errEmptyName = errors.New("record name is empty")

// File is the layout of a record definition file.
type File struct {
	Records []Definition `yaml:"records"`
}

// Definition describes one record.
type Definition struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"desc,omitempty"`
	Type        string          `yaml:"type"`
	Scan        string          `yaml:"scan,omitempty"`
	Priority    string          `yaml:"priority,omitempty"`
	ForwardLink string          `yaml:"flnk,omitempty"`

	// Device selects the device support of decode records.
	Device string `yaml:"device,omitempty"`
	// Delay is the completion delay of asynchronous device support.
	Delay time.Duration `yaml:"delay,omitempty"`
	// Input is the INP link read by soft device support.
	Input link.Link `yaml:"inp,omitempty"`

	// Decode holds the decode fields (nobt, shft, states, unsv, cosv).
	Decode decode.Config `yaml:",inline"`
	// SelectionMode names the selection algorithm of selector records (SELM).
	SelectionMode string `yaml:"selm,omitempty"`
	// Selector holds the remaining selector fields (inputs, nvl, seln, limits, ...).
	Selector selector.Config `yaml:",inline"`
}

// LoadFile reads and validates a record definition file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read record definitions: %w", err)
	}

	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return defs, nil
}

// Parse decodes and validates record definitions.
func Parse(data []byte) ([]Definition, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(file.Records))

	for i := range file.Records {
		def := &file.Records[i]
		def.Name = strings.TrimSpace(def.Name)

		if def.Name == "" {
			return nil, fmt.Errorf("record #%d: %w", i+1, errEmptyName)
		}

		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("record %s: %w", def.Name, ErrDuplicateRecord)
		}

		seen[def.Name] = struct{}{}

		if _, err := record.ParseKind(def.Type); err != nil {
			return nil, fmt.Errorf("record %s: %w", def.Name, err)
		}
	}

	for _, def := range file.Records {
		if def.ForwardLink == "" {
			continue
		}

		if _, ok := seen[def.ForwardLink]; !ok {
			return nil, fmt.Errorf("record %s: forward link to unknown record %q", def.Name, def.ForwardLink)
		}
	}

	return file.Records, nil
}

// Build creates, binds and initializes the records of defs. A record whose
// priority, selection mode or variant cannot be built, bound or initialized
// is still added, marked unprocessable, and reported once in the log.
func (db *Database) Build(ctx context.Context, defs []Definition, core *record.Core, bridge *completion.Bridge) error {
	ctx = logger.WithName(ctx, "database")

	for _, def := range defs {
		kind, err := record.ParseKind(def.Type)
		if err != nil {
			return fmt.Errorf("record %s: %w", def.Name, err)
		}

		priority, priorityErr := record.ParsePriority(def.Priority)

		rec := record.New(record.Spec{
			Name:        def.Name,
			Description: def.Description,
			Kind:        kind,
			Scan:        def.Scan,
			Priority:    priority,
			ForwardLink: def.ForwardLink,
		})

		completionCtx, err := bindVariant(rec, kind, def, priorityErr, bridge)
		if err != nil {
			rec.Reject(asConfigurationError(def.Name, err))
			logger.ErrorKV(ctx, "Record is unprocessable", "record", def.Name, "error", err)
		} else if err = core.Init(ctx, rec); err != nil {
			logger.ErrorKV(ctx, "Record is unprocessable", "record", def.Name, "error", err)
		}

		if err = db.Add(rec, completionCtx); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Record database built", "records", len(defs))

	return nil
}

// bindVariant builds the variant of def and binds it to rec. It returns the
// completion context to register when the record reads asynchronously.
func bindVariant(
	rec *record.Record,
	kind record.Kind,
	def Definition,
	priorityErr error,
	bridge *completion.Bridge,
) (*completion.Context, error) {
	if priorityErr != nil {
		return nil, priorityErr
	}

	variant, completionCtx, err := newVariant(kind, def, rec.Spec().Priority, bridge)
	if err != nil {
		return nil, err
	}

	if err = rec.Bind(variant); err != nil {
		if completionCtx != nil {
			completionCtx.Release()
		}

		return nil, err
	}

	return completionCtx, nil
}

// asConfigurationError keeps configuration errors and wraps anything else.
func asConfigurationError(name string, err error) *record.ConfigurationError {
	var cfgErr *record.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr
	}

	return record.NewConfigurationError(name, "definition", err)
}

// newVariant builds the record type implementation of def.
func newVariant(
	kind record.Kind,
	def Definition,
	priority record.Priority,
	bridge *completion.Bridge,
) (record.Variant, *completion.Context, error) {
	switch kind {
	case record.KindDecode:
		var completionCtx *completion.Context
		if bridge != nil {
			completionCtx = bridge.NewContext(def.Name, priority)
		}

		reader, err := device.New(def.Device, def.Input, def.Delay, completionCtx)
		if err != nil {
			return nil, nil, err
		}

		if _, async := reader.(*device.Async); !async {
			completionCtx = nil
		}

		variant, err := decode.New(def.Decode, reader)
		if err != nil {
			return nil, nil, err
		}

		return variant, completionCtx, nil
	case record.KindSelector:
		mode, err := selector.ParseMode(def.SelectionMode)
		if err != nil {
			return nil, nil, err
		}

		cfg := def.Selector
		cfg.Mode = mode

		variant, err := selector.New(cfg)
		if err != nil {
			return nil, nil, err
		}

		return variant, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported record type %s", kind)
	}
}
