package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ObjectUploader is satisfied by *storage.MinIOStorage.
type ObjectUploader interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// ArchiveSink stores each event as an immutable JSON object, partitioned by day:
// audit/2006/01/02/<type>/<id>.json
type ArchiveSink struct {
	store  ObjectUploader
	prefix string
}

func NewArchiveSink(store ObjectUploader, prefix string) *ArchiveSink {
	if prefix == "" {
		prefix = "audit"
	}
	return &ArchiveSink{store: store, prefix: prefix}
}

// ObjectKey returns the object name an event is archived under.
func (s *ArchiveSink) ObjectKey(e Event) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", s.prefix, e.Timestamp.UTC().Format("2006/01/02"), e.Type, e.ID)
}

func (s *ArchiveSink) Record(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit archive marshal: %w", err)
	}
	if err := s.store.UploadFile(ctx, s.ObjectKey(e), bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
		return fmt.Errorf("audit archive upload: %w", err)
	}
	return nil
}
