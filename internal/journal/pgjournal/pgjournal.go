// Package pgjournal batches journal entries into postgres with COPY.
package pgjournal

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"

	"nuha.dev/trackee/internal/journal"
)

const DefaultTable = "report_journal"

// Schema returns the DDL for the journal table named table.
func Schema(table string) string {
	if table == "" {
		table = DefaultTable
	}
	return `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{table}.Sanitize() + ` (
	cycle_id   uuid PRIMARY KEY,
	latitude   double precision,
	longitude  double precision,
	city       text,
	outcome    text NOT NULL,
	status     integer,
	sends      integer,
	cycle_time timestamptz NOT NULL
)`
}

var columns = []string{"cycle_id", "latitude", "longitude", "city", "outcome", "status", "sends", "cycle_time"}

type Copier interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

type Config struct {
	Table       string
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []journal.Entry
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]journal.Entry, 0, len)}
}

type Journal struct {
	config  Config
	db      Copier
	wlock   sync.Mutex
	wbuf    buffer
	flushq  chan buffer
	done    chan struct{}
	stopped bool
	log     log.Logger
}

func New(db Copier, config Config) *Journal {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if config.BufSize <= 0 {
		config.BufSize = 64
	}
	if config.TickerDur <= 0 {
		config.TickerDur = time.Second
	}
	if config.MaxAgeFlush <= 0 {
		config.MaxAgeFlush = 10 * time.Second
	}
	j := &Journal{config: config, db: db}
	j.log = log.DefaultLogger
	j.log.Context = log.NewContext(nil).Str("module", "pgjournal").Value()
	j.wbuf = new_buffer(0, config.BufSize)
	j.flushq = make(chan buffer, 4)
	j.done = make(chan struct{})
	return j
}

// Run flushes until ctx is done, then writes whatever is still buffered.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	ticker := time.NewTicker(j.config.TickerDur)
	defer ticker.Stop()
	j.log.Info().Msg("starting flusher task")
	for {
		select {
		case <-ctx.Done():
			j.wlock.Lock()
			if len(j.wbuf.buf) != 0 {
				j.flush()
			}
			j.stopped = true
			j.wlock.Unlock()
			for {
				select {
				case buf := <-j.flushq:
					j.write(buf)
				default:
					return
				}
			}
		case buf := <-j.flushq:
			j.write(buf)
		case t := <-ticker.C:
			j.wlock.Lock()
			if len(j.wbuf.buf) != 0 && t.Sub(j.wbuf.t1) > j.config.MaxAgeFlush {
				j.flush()
			}
			j.wlock.Unlock()
		}
	}
}

// Wait blocks until Run has returned.
func (j *Journal) Wait() {
	<-j.done
}

// Put buffers e. Once Run has stopped, entries are written through.
func (j *Journal) Put(e journal.Entry) {
	j.wlock.Lock()
	if j.stopped {
		j.wlock.Unlock()
		j.write(buffer{buf: []journal.Entry{e}})
		return
	}
	if len(j.wbuf.buf) == 0 {
		j.wbuf.t1 = time.Now().UTC()
	}
	j.wbuf.buf = append(j.wbuf.buf, e)
	if len(j.wbuf.buf) == j.config.BufSize {
		j.flush()
	}
	j.wlock.Unlock()
}

// flush must be called with wlock held.
func (j *Journal) flush() {
	next := j.wbuf.seq + 1
	select {
	case j.flushq <- j.wbuf:
	default:
		j.log.Warn().Uint64("seq", j.wbuf.seq).Int("length", len(j.wbuf.buf)).Msg("flusher busy, dropping batch")
	}
	j.wbuf = new_buffer(next, j.config.BufSize)
}

func (j *Journal) write(buf buffer) {
	t1 := time.Now()
	_, err := j.db.CopyFrom(context.Background(),
		pgx.Identifier{j.config.Table},
		columns,
		pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
			d := buf.buf[i]
			return []interface{}{d.CycleID, d.Latitude, d.Longitude, d.City, d.Outcome, d.Status, d.Sends, d.CycleTime}, nil
		}))
	if err != nil {
		j.log.Error().Err(err).Uint64("seq", buf.seq).Msg("flush error")
	} else {
		j.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	}
}
