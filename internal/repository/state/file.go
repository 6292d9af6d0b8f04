package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/procdb/internal/config"
)

const (
	keySavedAt = "saved_at"
	keyRecords = "records"
)

// Repository defines persistence operations for autosaved fields.
type Repository interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
}

// Snapshot holds settable field values per record.
type Snapshot struct {
	SavedAt time.Time
	Records map[string]map[string]float64
}

// FileRepository persists snapshots to a JSON file on disk. The file is a
// google.protobuf.Struct rendered with protojson.
type FileRepository struct {
	// path is the filesystem location of the autosave file.
	path string
	// mu protects concurrent access to the autosave file.
	mu sync.Mutex
}

// ErrNotFound is returned when the autosave file does not exist yet.
var ErrNotFound = errors.New("autosave file not found")

var errMalformed = errors.New("malformed autosave file")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the snapshot from disk.
func (r *FileRepository) Load(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read autosave file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode autosave file: %w", err)
	}

	return fromProto(&document)
}

// Save writes the snapshot to disk. The file is replaced atomically.
func (r *FileRepository) Save(_ context.Context, snapshot *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := toProto(snapshot)
	if err != nil {
		return fmt.Errorf("encode autosave: %w", err)
	}

	data, err := protojson.MarshalOptions{Multiline: true, EmitUnpopulated: true}.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode autosave: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write autosave file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace autosave file: %w", err)
	}

	return nil
}

// fromProto converts the stored document into a Snapshot.
func fromProto(document *structpb.Struct) (*Snapshot, error) {
	fields := document.GetFields()
	snapshot := &Snapshot{Records: make(map[string]map[string]float64)}

	if savedAt := fields[keySavedAt].GetStringValue(); savedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: saved_at: %w", errMalformed, err)
		}

		snapshot.SavedAt = ts
	}

	records := fields[keyRecords].GetStructValue()
	for name, value := range records.GetFields() {
		recordFields := value.GetStructValue()
		if recordFields == nil {
			return nil, fmt.Errorf("%w: record %s is not an object", errMalformed, name)
		}

		values := make(map[string]float64, len(recordFields.GetFields()))

		for field, fieldValue := range recordFields.GetFields() {
			number, ok := fieldValue.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is not a number", errMalformed, name, field)
			}

			values[field] = number.NumberValue
		}

		snapshot.Records[name] = values
	}

	return snapshot, nil
}

// toProto converts a Snapshot into the stored document.
func toProto(snapshot *Snapshot) (*structpb.Struct, error) {
	records := make(map[string]any, len(snapshot.Records))

	for name, values := range snapshot.Records {
		recordFields := make(map[string]any, len(values))
		for field, value := range values {
			recordFields[field] = value
		}

		records[name] = recordFields
	}

	document := map[string]any{keyRecords: records}

	if !snapshot.SavedAt.IsZero() {
		document[keySavedAt] = snapshot.SavedAt.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(document)
}
