package audit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"
)

// Minimal fake SQL driver, grounded on the same shape the teacher uses to
// exercise its Postgres persister's transaction/exec paths without a real
// database.

type fakeDB struct {
	execs      []string
	failExecAt map[int]error
}

type fakeDriver struct{}
type fakeConn struct{ db *fakeDB }
type fakeResult int

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

func (fakeDriver) Open(name string) (driver.Conn, error) { return &fakeConn{db: testFakeDB}, nil }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)                 { return nil, errors.New("not used") }
func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.execs = append(c.db.execs, query)
	idx := len(c.db.execs)
	if c.db.failExecAt != nil {
		if err, ok := c.db.failExecAt[idx]; ok {
			return nil, err
		}
	}
	return fakeResult(1), nil
}

var testFakeDB *fakeDB

func init() {
	sql.Register("fakeauditsql", fakeDriver{})
}

func newSQLDBWithFake(db *fakeDB) *sql.DB {
	testFakeDB = db
	d, _ := sql.Open("fakeauditsql", "")
	return d
}

func TestArchiveChapterCloseIssuesUpsert(t *testing.T) {
	f := &fakeDB{}
	a := NewPostgresArchiver(newSQLDBWithFake(f))
	err := a.ArchiveChapterClose(context.Background(), ChapterClose{
		IndexName:      "idx0",
		VirtualChapter: 42,
		PhysicalSlot:   3,
		ClosedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.execs) != 1 || !strings.Contains(f.execs[0], "ON CONFLICT DO NOTHING") {
		t.Fatalf("expected one idempotent upsert, got %v", f.execs)
	}
}

func TestArchiveChapterCloseWrapsExecError(t *testing.T) {
	f := &fakeDB{failExecAt: map[int]error{1: errors.New("boom")}}
	a := NewPostgresArchiver(newSQLDBWithFake(f))
	err := a.ArchiveChapterClose(context.Background(), ChapterClose{IndexName: "idx0", VirtualChapter: 1})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (f *fakeProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.topic, f.key, f.value, f.headers = topic, key, value, headers
	return f.err
}

func TestExportOutcomePublishesJSON(t *testing.T) {
	p := &fakeProducer{}
	e := NewKafkaEventExporter(p, "uds.outcomes")

	if err := e.ExportOutcome(context.Background(), "fp-1", RequestOutcome{Kind: "query", Found: true, Zone: 2, Latency: 5 * time.Millisecond}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.topic != "uds.outcomes" {
		t.Fatalf("topic = %q", p.topic)
	}
	if string(p.key) != "fp-1" {
		t.Fatalf("key = %q", p.key)
	}
	if !strings.Contains(string(p.value), `"kind":"query"`) {
		t.Fatalf("payload missing kind field: %s", p.value)
	}
}

func TestExportOutcomeWrapsProducerError(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker unavailable")}
	e := NewKafkaEventExporter(p, "uds.outcomes")
	err := e.ExportOutcome(context.Background(), "fp-1", RequestOutcome{Kind: "update"})
	if err == nil || !strings.Contains(err.Error(), "broker unavailable") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSinkSkipsNilCollaborators(t *testing.T) {
	s := &Sink{IndexName: "idx"}
	// Neither Postgres nor Kafka is configured; both calls must be no-ops,
	// not panics.
	s.RecordChapterClose(context.Background(), 3, 1)
	s.RecordRequestOutcome(context.Background(), "query", true, 0)
}

func TestSinkRecordRequestOutcomePublishesThroughKafka(t *testing.T) {
	p := &fakeProducer{}
	s := &Sink{IndexName: "idx", Kafka: NewKafkaEventExporter(p, "uds.outcomes")}
	s.RecordRequestOutcome(context.Background(), "query", true, 2)
	if p.topic != "uds.outcomes" {
		t.Fatalf("topic = %q, want uds.outcomes", p.topic)
	}
	if !strings.Contains(string(p.value), `"kind":"query"`) {
		t.Fatalf("payload missing kind field: %s", p.value)
	}
}
