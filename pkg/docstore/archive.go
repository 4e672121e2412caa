package docstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
)

// Entry is one record to archive. Payload must marshal to a JSON object.
type Entry struct {
	CxID      string
	PatientID string
	Stage     string
	Date      time.Time
	Name      string
	Payload   any
}

// Key places the entry in a hive partitioned layout:
// cx_id=<cx>/patient_id=<patient>/date=<yyyy-mm-dd>/stage=<stage>/<name>.json
func (e Entry) Key() string {
	return fmt.Sprintf("cx_id=%s/patient_id=%s/date=%s/stage=%s/%s.json",
		partitionValue(e.CxID),
		partitionValue(e.PatientID),
		e.day(),
		partitionValue(e.Stage),
		partitionValue(e.Name),
	)
}

func (e Entry) day() string {
	return e.Date.UTC().Format(time.DateOnly)
}

// body is the payload with the partition columns added, so query engines
// reading the objects directly see them as fields.
func (e Entry) body() ([]byte, error) {
	raw, err := gojson.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]gojson.RawMessage)
	if err := gojson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	for k, v := range map[string]string{"_date": e.day(), "cxid": e.CxID, "_stage": e.Stage} {
		b, err := gojson.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[k] = b
	}
	return gojson.Marshal(fields)
}

func partitionValue(s string) string {
	return strings.NewReplacer("/", "_", "=", "_", ":", "_").Replace(s)
}

// Archive writes processed results as JSON objects for offline analysis.
// Writing the same entry twice replaces the object.
type Archive struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// Archive returns an archive writing to bucket with the store's client
func (s *Store) Archive(bucket string) *Archive {
	return &Archive{client: s.client, bucket: bucket, logger: s.logger}
}

// Put uploads e and returns its key
func (a *Archive) Put(ctx context.Context, e Entry) (string, error) {
	key := e.Key()
	body, err := e.body()
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", key, err)
	}
	a.logger.Debug("result archived", "bucket", a.bucket, "key", key, "size", len(body))
	return key, nil
}
