package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"agentbridge/internal/routing"
)

const (
	BatchSize     = 200
	FlushInterval = 500 * time.Millisecond
	BufferSize    = 5000
)

// Record es una fila de agentbridge_calls
type Record struct {
	CallID     string
	Event      string
	Agent      string
	Incoming   string
	Outgoing   string
	Bridge     string
	Channel    string
	Leg        string
	OccurredAt time.Time
}

// Store persiste lotes de registros
type Store interface {
	Insert(ctx context.Context, records []Record) error
}

// journaled son las transiciones que se guardan; los puentes pendientes no
var journaled = map[routing.NotificationType]bool{
	routing.NotifyCallEstablished: true,
	routing.NotifyLegReplaced:     true,
	routing.NotifyCallHeld:        true,
	routing.NotifyCallUnheld:      true,
	routing.NotifyCallEnded:       true,
}

// Journal escribe el historial de llamadas en segundo plano por lotes.
// Solo es un registro de auditoría: nunca se lee para reconstruir estado.
type Journal struct {
	store     Store
	records   chan Record
	log       logrus.FieldLogger
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	interval  time.Duration
}

// NewJournal crea un journal sobre store
func NewJournal(store Store, log logrus.FieldLogger) *Journal {
	return &Journal{
		store:    store,
		records:  make(chan Record, BufferSize),
		log:      log,
		interval: FlushInterval,
	}
}

// Start inicia el worker
func (j *Journal) Start() {
	j.mu.Lock()
	if j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = true
	j.wg.Add(1)
	j.mu.Unlock()

	go j.worker()
	j.log.Info("Journal iniciado")
}

// Stop vacía lo pendiente y detiene el worker
func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = false
	close(j.records)
	j.mu.Unlock()

	j.wg.Wait()
	j.log.Info("Journal detenido")
}

// Notify implementa routing.Observer
func (j *Journal) Notify(n routing.Notification) {
	if !journaled[n.Type] {
		return
	}
	j.Queue(Record{
		CallID:     n.CallID,
		Event:      string(n.Type),
		Agent:      n.Agent,
		Incoming:   n.Call.Incoming,
		Outgoing:   n.Call.Outgoing,
		Bridge:     n.Call.Bridge,
		Channel:    n.Channel,
		Leg:        string(n.Leg),
		OccurredAt: n.At,
	})
}

// Queue agrega un registro al buffer sin bloquear
func (j *Journal) Queue(r Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.isRunning {
		return
	}
	select {
	case j.records <- r:
	default:
		j.log.WithField("call_id", r.CallID).Warn("Buffer lleno, registro descartado")
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	buffer := make([]Record, 0, BatchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-j.records:
			if !ok {
				j.flush(buffer)
				return
			}
			buffer = append(buffer, r)
			if len(buffer) >= BatchSize {
				j.flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			j.flush(buffer)
			buffer = buffer[:0]
		}
	}
}

func (j *Journal) flush(records []Record) {
	if len(records) == 0 {
		return
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := j.store.Insert(ctx, records); err != nil {
		j.log.WithError(err).WithField("count", len(records)).Error("Error guardando lote")
		return
	}
	j.log.WithFields(logrus.Fields{"count": len(records), "took": time.Since(start)}).Debug("Lote guardado")
}

// MySQLStore guarda registros en agentbridge_calls
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore crea un store sobre db
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Insert escribe el lote con un único INSERT multi-fila
func (s *MySQLStore) Insert(ctx context.Context, records []Record) error {
	query, args := insertQuery(records)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert agentbridge_calls: %w", err)
	}
	return nil
}

func insertQuery(records []Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO agentbridge_calls (call_id, event, agent, incoming, outgoing, bridge, channel, leg, occurred_at) VALUES ")
	args := make([]any, 0, len(records)*9)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.CallID, r.Event, r.Agent, r.Incoming, r.Outgoing, r.Bridge, r.Channel, r.Leg, r.OccurredAt)
	}
	return b.String(), args
}
