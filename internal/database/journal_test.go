package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"agentbridge/internal/routing"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
}

func (m *memStore) Insert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]Record(nil), records...))
	return nil
}

func (m *memStore) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func newTestJournal(store Store) *Journal {
	logger, _ := test.NewNullLogger()
	return NewJournal(store, logger)
}

func TestJournal_StopFlushesPending(t *testing.T) {
	store := &memStore{}
	j := newTestJournal(store)
	j.interval = time.Hour
	j.Start()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	j.Notify(routing.Notification{
		Type:   routing.NotifyCallEstablished,
		CallID: "150-in1",
		Agent:  "150",
		Call:   routing.Call{Incoming: "in1", Outgoing: "out1", Bridge: "b1"},
		At:     at,
	})
	j.Notify(routing.Notification{Type: routing.NotifyCallEnded, CallID: "150-in1", Agent: "150", Channel: "in1", At: at})
	j.Stop()

	got := store.all()
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	want := Record{CallID: "150-in1", Event: "call_established", Agent: "150", Incoming: "in1", Outgoing: "out1", Bridge: "b1", OccurredAt: at}
	if got[0] != want {
		t.Errorf("record = %+v, want %+v", got[0], want)
	}
	if got[1].Event != "call_ended" || got[1].Channel != "in1" {
		t.Errorf("second record = %+v", got[1])
	}
}

func TestJournal_SkipsPendingNotifications(t *testing.T) {
	store := &memStore{}
	j := newTestJournal(store)
	j.Start()
	j.Notify(routing.Notification{Type: routing.NotifyPendingCreated, CallID: "x"})
	j.Notify(routing.Notification{Type: routing.NotifyPendingDropped, CallID: "x"})
	j.Stop()

	if got := store.all(); len(got) != 0 {
		t.Errorf("pending notifications journaled: %+v", got)
	}
}

func TestJournal_FlushesOnInterval(t *testing.T) {
	store := &memStore{}
	j := newTestJournal(store)
	j.interval = 10 * time.Millisecond
	j.Start()
	defer j.Stop()

	j.Queue(Record{CallID: "150-in1", Event: "call_held"})

	deadline := time.Now().Add(2 * time.Second)
	for len(store.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("batch never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJournal_StoreErrorDoesNotStopWorker(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	j := newTestJournal(store)
	j.Start()
	j.Queue(Record{CallID: "a"})
	j.Stop()

	if got := store.all(); len(got) != 0 {
		t.Errorf("records = %+v", got)
	}
}

func TestJournal_QueueAfterStopIsDropped(t *testing.T) {
	j := newTestJournal(&memStore{})
	j.Start()
	j.Stop()
	j.Queue(Record{CallID: "late"})
	j.Stop()
}

func TestInsertQuery(t *testing.T) {
	q, args := insertQuery([]Record{{CallID: "a"}, {CallID: "b"}})
	if strings.Count(q, "(?, ?, ?, ?, ?, ?, ?, ?, ?)") != 2 {
		t.Errorf("query = %s", q)
	}
	if len(args) != 18 || args[0] != "a" || args[9] != "b" {
		t.Errorf("args = %v", args)
	}
}

type execRecorder struct {
	queries []string
	fail    error
}

func (e *execRecorder) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	e.queries = append(e.queries, q)
	return nil, e.fail
}

func TestRunMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql": {Data: []byte("ALTER TABLE t ADD COLUMN c INT;")},
		"migrations/001_a.sql": {Data: []byte("CREATE TABLE t (id INT);\n\nCREATE INDEX i ON t (id);\n")},
	}
	logger, _ := test.NewNullLogger()
	rec := &execRecorder{}

	if err := runMigrations(context.Background(), rec, fsys, logger); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	want := []string{"CREATE TABLE t (id INT)", "CREATE INDEX i ON t (id)", "ALTER TABLE t ADD COLUMN c INT"}
	if len(rec.queries) != len(want) {
		t.Fatalf("queries = %q", rec.queries)
	}
	for i := range want {
		if rec.queries[i] != want[i] {
			t.Errorf("query %d = %q, want %q", i, rec.queries[i], want[i])
		}
	}
}

func TestRunMigrations_IgnoresAlreadyExists(t *testing.T) {
	fsys := fstest.MapFS{"migrations/001.sql": {Data: []byte("CREATE TABLE t (id INT);")}}
	logger, _ := test.NewNullLogger()

	err := runMigrations(context.Background(), &execRecorder{fail: errors.New("Table 't' already exists")}, fsys, logger)
	if err != nil {
		t.Errorf("already exists should be ignored: %v", err)
	}
	err = runMigrations(context.Background(), &execRecorder{fail: errors.New("syntax error")}, fsys, logger)
	if err == nil {
		t.Error("expected error for failing statement")
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rec := &execRecorder{}
	if err := Migrate(context.Background(), rec, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(rec.queries) == 0 || !strings.Contains(rec.queries[0], "agentbridge_calls") {
		t.Errorf("queries = %q", rec.queries)
	}
}
