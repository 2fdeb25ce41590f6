// Package registry implements the shared on-disk registry mapping
// virtual host names to the loopback addresses of the subnetworks
// serving them (spec.md §4.10). It is backed by a single SQLite file
// with two tables (hosts, meta) and a bounded connection pool, the Go
// rendition of the original implementation's SQLiteRegistry/DBPool
// (_examples/original_source/xnet/lonet/__init__.py).
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirr-labs/lonet/internal/metrics"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// SchemaVersion is the registry schema version this package reads and
// writes, matching the original's "lonet.1".
const SchemaVersion = "lonet.1"

// Error is raised by every Registry operation that fails; it
// annotates the underlying error with the registry's URI, the
// operation name and its arguments, mirroring the original's
// RegistryError.
type Error struct {
	URI  string
	Op   string
	Args []any
	Err  error
}

func (e *Error) Error() string {
	argv := make([]string, len(e.Args))
	for i, a := range e.Args {
		argv[i] = fmt.Sprintf("%v", a)
	}
	return fmt.Sprintf("%s: %s(%s): %s", e.URI, e.Op, strings.Join(argv, ", "), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func init() {
	xerr.RegisterWellDefinedType(&Error{})
}

func regerr(uri, op string, err error, args ...any) error {
	if err == nil {
		return nil
	}
	if !xerr.WellDefined(xerr.Cause(err)) {
		err = xerr.Context("BUG", err)
	}
	return &Error{URI: uri, Op: op, Args: args, Err: err}
}

// Registry is a transactional hostname -> loopback-address map shared
// by every subnetwork of one lonet network.
type Registry struct {
	uri     string
	pool    *pool
	metrics *metrics.Collector
}

// Open opens (creating if needed) the registry at dburi, checking that
// its stored schema version and network name agree with network. If
// maxOpen is 0, the pool is unbounded (connections are opened on
// demand and never evicted except on Close).
func Open(dburi, network string, maxOpen int, mc *metrics.Collector) (*Registry, error) {
	r := &Registry{
		uri:     dburi,
		pool:    newPool(dburi, maxOpen),
		metrics: mc,
	}
	if err := r.setup(network); err != nil {
		r.pool.close()
		return nil, regerr(dburi, "open", err, network)
	}
	return r, nil
}

func (r *Registry) countErr(err error) error {
	if err != nil && r.metrics != nil {
		r.metrics.RegistryErrors.Inc()
	}
	return err
}

func (r *Registry) setup(network string) error {
	conn, err := r.pool.get()
	if err != nil {
		return err
	}
	defer r.pool.put(conn)

	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS hosts (
		hostname TEXT NOT NULL PRIMARY KEY,
		osladdr  TEXT NOT NULL
	)`); err != nil {
		return err
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS meta (
		name  TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return err
	}

	ver, err := configGet(conn, "schemaver")
	if err != nil {
		return err
	}
	if ver == "" {
		if err := configSet(conn, "schemaver", SchemaVersion); err != nil {
			return err
		}
	} else if ver != SchemaVersion {
		return fmt.Errorf("schema version mismatch: want %q; have %q", SchemaVersion, ver)
	}

	dbnetwork, err := configGet(conn, "network")
	if err != nil {
		return err
	}
	if dbnetwork == "" {
		if err := configSet(conn, "network", network); err != nil {
			return err
		}
	} else if dbnetwork != network {
		return fmt.Errorf("network name mismatch: want %q; have %q", network, dbnetwork)
	}

	return nil
}

func configGet(conn *sql.DB, name string) (string, error) {
	rows, err := conn.Query("SELECT value FROM meta WHERE name = ?", name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	default:
		return "", fmt.Errorf("registry broken: duplicate config entries for %q", name)
	}
}

func configSet(conn *sql.DB, name, value string) error {
	_, err := conn.Exec("INSERT OR REPLACE INTO meta (name, value) VALUES (?, ?)", name, value)
	return err
}

// Announce records hostname -> osladdr. It fails with a well-defined
// ErrHostAlreadyUsed cause if hostname is already registered, safely
// across concurrent writers in any process sharing this file, by
// relying on the table's unique-constraint enforcement.
func (r *Registry) Announce(hostname, osladdr string) error {
	err := r.announce(hostname, osladdr)
	if err != nil {
		return regerr(r.uri, "announce", r.countErr(err), hostname, osladdr)
	}
	return nil
}

func (r *Registry) announce(hostname, osladdr string) error {
	conn, err := r.pool.get()
	if err != nil {
		return err
	}
	defer r.pool.put(conn)

	_, err = conn.Exec("INSERT INTO hosts (hostname, osladdr) VALUES (?, ?)", hostname, osladdr)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return xerr.ErrHostAlreadyUsed
		}
		return err
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Query looks up hostname, returning ("", false, nil) if it is not
// registered.
func (r *Registry) Query(hostname string) (string, bool, error) {
	osladdr, ok, err := r.query(hostname)
	if err != nil {
		return "", false, regerr(r.uri, "query", r.countErr(err), hostname)
	}
	return osladdr, ok, nil
}

func (r *Registry) query(hostname string) (string, bool, error) {
	conn, err := r.pool.get()
	if err != nil {
		return "", false, err
	}
	defer r.pool.put(conn)

	rows, err := conn.Query("SELECT osladdr FROM hosts WHERE hostname = ?", hostname)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", false, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}
	switch len(values) {
	case 0:
		return "", false, nil
	case 1:
		return values[0], true, nil
	default:
		return "", false, fmt.Errorf("registry broken: duplicate host entries for %q", hostname)
	}
}

// Close closes every pooled connection. It is idempotent.
func (r *Registry) Close() error {
	return r.pool.close()
}

// pool is a bounded collection of opened *sql.DB handles (each backed
// by a single SQLite connection, since database/sql's own connection
// pooling doesn't serialize writers the way SQLite needs), with a
// mutex-guarded free list, matching the original's DBPool.
type pool struct {
	mu      sync.Mutex
	dburi   string
	maxOpen int
	free    []*sql.DB
	nopen   int
	closed  bool
}

var errPoolClosed = errors.New("pool closed")

func init() {
	xerr.RegisterWellDefined(errPoolClosed)
}

func newPool(dburi string, maxOpen int) *pool {
	return &pool{dburi: dburi, maxOpen: maxOpen}
}

func (p *pool) get() (*sql.DB, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if n := len(p.free); n > 0 {
		conn := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	return p.factory()
}

func (p *pool) factory() (*sql.DB, error) {
	// busy_timeout matches the 5s default the original's sqlite3.connect
	// gets for free, so two subnetwork processes sharing one registry
	// file don't surface spurious "database is locked" errors.
	conn, err := sql.Open("sqlite3", p.dburi+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One connection per *sql.DB: SQLite serializes writers at the
	// file level, and the registry's own pool already multiplexes
	// handles across goroutines, so there is no benefit (and real
	// risk of "database is locked") in letting database/sql itself
	// hold more than one connection open per handle.
	conn.SetMaxOpenConns(1)
	p.mu.Lock()
	p.nopen++
	p.mu.Unlock()
	return conn, nil
}

func (p *pool) put(conn *sql.DB) {
	p.mu.Lock()
	if p.closed || (p.maxOpen > 0 && len(p.free) >= p.maxOpen) {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.free = append(p.free, conn)
	p.mu.Unlock()
}

func (p *pool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	var firstErr error
	for _, conn := range free {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
