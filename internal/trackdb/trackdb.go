// Package trackdb persists the identities the object matcher reconciles:
// one row per canonical track, the local ids bound to it as aliases, and
// an append-only log of every gallery event. A TrackDB is a track.Sink;
// events are queued and written by a background goroutine so the matcher
// never waits on disk.
package trackdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/camflow/internal/monitoring"
	"github.com/banshee-data/camflow/internal/track"
)

// queueSize bounds the events waiting to be written. Events beyond it are
// dropped and counted.
const queueSize = 1024

type item struct {
	ev   track.Event
	sync chan struct{}
}

type TrackDB struct {
	*sql.DB

	run   string
	queue chan item
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Open opens (creating if needed) the database at path, migrates it to the
// latest schema and records a new run for pipeline.
func Open(path, pipeline string) (*TrackDB, error) {
	db, err := openSQL(path)
	if err != nil {
		return nil, err
	}
	tdb := &TrackDB{
		DB:    db,
		run:   uuid.NewString(),
		queue: make(chan item, queueSize),
		done:  make(chan struct{}),
	}
	if err := tdb.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`INSERT INTO runs (run_id, pipeline, started_unix_nanos) VALUES (?, ?, ?)`,
		tdb.run, pipeline, time.Now().UnixNano()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	monitoring.Diagf("trackdb: opened %s, run %s", path, tdb.run)

	go tdb.flush()
	return tdb, nil
}

func openSQL(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// One connection avoids SQLITE_BUSY between the flusher and admin
	// queries.
	db.SetMaxOpenConns(1)
	return db, nil
}

// RunID identifies this process's run in the runs table.
func (db *TrackDB) RunID() string { return db.run }

// TrackEvent queues e for writing. It never blocks; when the queue is full
// the event is dropped.
func (db *TrackDB) TrackEvent(e track.Event) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		db.dropped.Add(1)
		return
	}
	select {
	case db.queue <- item{ev: e}:
	default:
		if db.dropped.Add(1) == 1 {
			monitoring.Opsf("trackdb: queue full, dropping track events")
		}
	}
}

// Sync waits until every event queued before the call has been written.
func (db *TrackDB) Sync() {
	ack := make(chan struct{})
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return
	}
	db.queue <- item{sync: ack}
	db.mu.RUnlock()
	<-ack
}

// Dropped returns how many events were discarded because the queue was
// full, and how many failed to write.
func (db *TrackDB) Dropped() (dropped, failed uint64) {
	return db.dropped.Load(), db.failed.Load()
}

// Close writes the queued events and closes the database.
func (db *TrackDB) Close() error {
	db.mu.Lock()
	if !db.closed {
		db.closed = true
		close(db.queue)
	}
	db.mu.Unlock()
	<-db.done
	return db.DB.Close()
}

func (db *TrackDB) flush() {
	defer close(db.done)
	for it := range db.queue {
		if it.sync != nil {
			close(it.sync)
			continue
		}
		if err := db.Record(it.ev); err != nil {
			db.failed.Add(1)
			monitoring.Opsf("trackdb: %s %s: %v", it.ev.Kind, it.ev.TrackID, err)
		}
	}
}

// Record writes e synchronously.
func (db *TrackDB) Record(e track.Event) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := e.At.UnixNano()
	switch e.Kind {
	case track.Created:
		_, err = tx.Exec(`INSERT INTO tracks (track_id, run_id, camera, tag, created_unix_nanos)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(track_id) DO UPDATE SET evicted_unix_nanos = NULL`,
			e.TrackID, db.run, e.Camera, e.Tag, at)
	case track.AliasBound:
		_, err = tx.Exec(`INSERT OR REPLACE INTO track_aliases (alias, track_id, distance, bound_unix_nanos)
			VALUES (?, ?, ?, ?)`, e.Alias, e.TrackID, e.Distance, at)
	case track.Evicted:
		_, err = tx.Exec(`UPDATE tracks SET evicted_unix_nanos = ? WHERE track_id = ?`, at, e.TrackID)
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}
	if err != nil {
		return err
	}

	var alias sql.NullString
	var distance sql.NullFloat64
	if e.Kind == track.AliasBound {
		alias = sql.NullString{String: e.Alias, Valid: true}
		distance = sql.NullFloat64{Float64: e.Distance, Valid: true}
	}
	if _, err := tx.Exec(`INSERT INTO track_events (run_id, kind, track_id, camera, tag, alias, distance, at_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		db.run, e.Kind.String(), e.TrackID, e.Camera, e.Tag, alias, distance, at); err != nil {
		return err
	}
	return tx.Commit()
}

// TrackRecord is one row of the tracks table with its aliases.
type TrackRecord struct {
	TrackID string     `json:"track_id"`
	RunID   string     `json:"run_id"`
	Camera  string     `json:"camera"`
	Tag     string     `json:"tag"`
	Created time.Time  `json:"created"`
	Evicted *time.Time `json:"evicted,omitempty"`
	Aliases []string   `json:"aliases"`
}

// ErrNotFound is returned by Track for an unknown id.
var ErrNotFound = errors.New("trackdb: not found")

// Track returns one track by id.
func (db *TrackDB) Track(id string) (TrackRecord, error) {
	rows, err := db.Query(`SELECT track_id, run_id, camera, tag, created_unix_nanos, evicted_unix_nanos
		FROM tracks WHERE track_id = ?`, id)
	if err != nil {
		return TrackRecord{}, err
	}
	recs, err := db.scanTracks(rows)
	if err != nil {
		return TrackRecord{}, err
	}
	if len(recs) == 0 {
		return TrackRecord{}, fmt.Errorf("%w: track %q", ErrNotFound, id)
	}
	return recs[0], nil
}

// RecentTracks returns up to limit tracks, newest first.
func (db *TrackDB) RecentTracks(limit int) ([]TrackRecord, error) {
	rows, err := db.Query(`SELECT track_id, run_id, camera, tag, created_unix_nanos, evicted_unix_nanos
		FROM tracks ORDER BY created_unix_nanos DESC, track_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return db.scanTracks(rows)
}

func (db *TrackDB) scanTracks(rows *sql.Rows) ([]TrackRecord, error) {
	var recs []TrackRecord
	for rows.Next() {
		var r TrackRecord
		var created int64
		var evicted sql.NullInt64
		if err := rows.Scan(&r.TrackID, &r.RunID, &r.Camera, &r.Tag, &created, &evicted); err != nil {
			rows.Close()
			return nil, err
		}
		r.Created = time.Unix(0, created).UTC()
		if evicted.Valid {
			t := time.Unix(0, evicted.Int64).UTC()
			r.Evicted = &t
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Aliases are read after rows is closed; the pool has one connection.
	for i := range recs {
		aliases, err := db.Aliases(recs[i].TrackID)
		if err != nil {
			return nil, err
		}
		recs[i].Aliases = aliases
	}
	return recs, nil
}

// Aliases returns the local ids bound to a track, sorted.
func (db *TrackDB) Aliases(trackID string) ([]string, error) {
	rows, err := db.Query(`SELECT alias FROM track_aliases WHERE track_id = ? ORDER BY alias`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EventCounts returns the number of logged events per kind for this run.
func (db *TrackDB) EventCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM track_events WHERE run_id = ? GROUP BY kind`, db.run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
