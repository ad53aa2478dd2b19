// Package audit provides two optional, off-the-critical-path sinks: a
// Postgres archiver that durably records every chapter close, and a Kafka
// exporter that publishes one outcome event per completed request for
// offline analytics. Neither participates in the index's correctness
// contract; a session configured with neither behaves exactly like one
// with no audit trail at all.
//
// Grounded on the teacher's internal/ratelimiter/persistence/{postgres,kafka}.go:
// the Postgres archiver reuses the idempotent
// "INSERT ... ON CONFLICT DO NOTHING" pattern, and the Kafka exporter
// reuses the teacher's producer-agnostic Produce(ctx, topic, key, value,
// headers) interface so no concrete Kafka client library is imported.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dm-vdo/vdo-devel-sub005/internal/logging"
)

// ChapterClose is one archival record: a chapter finished filling and was
// committed to the volume at physicalSlot.
type ChapterClose struct {
	IndexName      string
	VirtualChapter uint64
	PhysicalSlot   int
	ClosedAt       time.Time
}

// PostgresArchiver durably records chapter-close events. The schema
// mirrors the teacher's comment-block convention:
//
//	CREATE TABLE IF NOT EXISTS chapter_closes (
//	  index_name     TEXT NOT NULL,
//	  virtual_chapter BIGINT NOT NULL,
//	  physical_slot  INT NOT NULL,
//	  closed_at      TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (index_name, virtual_chapter)
//	);
//
// virtual_chapter is already a natural monotonic idempotency key (unlike
// the teacher's synthetic commit IDs), so no ID generation is needed.
type PostgresArchiver struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewPostgresArchiver returns an archiver writing through db.
func NewPostgresArchiver(db *sql.DB) *PostgresArchiver {
	return &PostgresArchiver{db: db, defaultTimeout: 10 * time.Second}
}

// ArchiveChapterClose idempotently records c. Replaying the same
// (index_name, virtual_chapter) pair is a no-op.
func (a *PostgresArchiver) ArchiveChapterClose(ctx context.Context, c ChapterClose) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && a.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.defaultTimeout)
		defer cancel()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chapter_closes(index_name, virtual_chapter, physical_slot, closed_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		c.IndexName, c.VirtualChapter, c.PhysicalSlot, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("audit: archive chapter_close index=%s chapter=%d: %w", c.IndexName, c.VirtualChapter, err)
	}
	return nil
}

// KafkaProducer is a minimal abstraction over a Kafka client, deliberately
// avoiding a dependency on any specific client library.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// RequestOutcome is one completed request's audit event.
type RequestOutcome struct {
	Kind    string // "POST", "UPDATE", "QUERY", "QUERY_NO_UPDATE", or "DELETE"
	Found   bool
	Zone    int
	Latency time.Duration
}

type requestOutcomeMessage struct {
	Kind       string `json:"kind"`
	Found      bool   `json:"found"`
	Zone       int    `json:"zone"`
	LatencyUs  int64  `json:"latency_us"`
	TsUnixMs   int64  `json:"ts_unix_ms"`
}

// KafkaEventExporter publishes one best-effort message per completed
// request.
type KafkaEventExporter struct {
	producer KafkaProducer
	topic    string
}

// NewKafkaEventExporter returns an exporter publishing to topic via
// producer.
func NewKafkaEventExporter(producer KafkaProducer, topic string) *KafkaEventExporter {
	return &KafkaEventExporter{producer: producer, topic: topic}
}

// ExportOutcome publishes one request outcome. Errors are returned to the
// caller (who is expected to log-and-drop rather than fail the request,
// since this is off the synchronous critical path).
func (e *KafkaEventExporter) ExportOutcome(ctx context.Context, key string, o RequestOutcome) error {
	msg := requestOutcomeMessage{
		Kind:      o.Kind,
		Found:     o.Found,
		Zone:      o.Zone,
		LatencyUs: o.Latency.Microseconds(),
		TsUnixMs:  time.Now().UnixMilli(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("audit: marshal request outcome: %w", err)
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := e.producer.Produce(ctx, e.topic, []byte(key), b, headers); err != nil {
		return fmt.Errorf("audit: kafka produce key=%s: %w", key, err)
	}
	return nil
}

// Sink composes the two optional sinks above into the shape
// internal/uds/session.AuditSink expects: one hook per chapter close, one
// per completed request. Either collaborator may be nil; a nil one is
// simply skipped. Errors from either sink are logged and dropped rather
// than propagated, since neither participates in the index's correctness
// contract (§4.7's stages never block on an audit write).
type Sink struct {
	IndexName string
	Postgres  *PostgresArchiver
	Kafka     *KafkaEventExporter
	Logger    logging.Logger
}

// RecordChapterClose satisfies session.AuditSink.
func (s *Sink) RecordChapterClose(ctx context.Context, virtualChapter uint64, physicalChapter int) {
	if s.Postgres == nil {
		return
	}
	c := ChapterClose{
		IndexName:      s.IndexName,
		VirtualChapter: virtualChapter,
		PhysicalSlot:   physicalChapter,
		ClosedAt:       time.Now(),
	}
	if err := s.Postgres.ArchiveChapterClose(ctx, c); err != nil {
		logging.OrDiscard(s.Logger).Warnf("audit: chapter-close archive failed: %v", err)
	}
}

// RecordRequestOutcome satisfies session.AuditSink.
func (s *Sink) RecordRequestOutcome(ctx context.Context, kind string, found bool, zone int) {
	if s.Kafka == nil {
		return
	}
	o := RequestOutcome{Kind: kind, Found: found, Zone: zone}
	if err := s.Kafka.ExportOutcome(ctx, fmt.Sprintf("%s:%d", s.IndexName, zone), o); err != nil {
		logging.OrDiscard(s.Logger).Warnf("audit: kafka export failed: %v", err)
	}
}
