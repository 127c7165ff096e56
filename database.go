package duckling

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Memory is the storage location of a transient in-memory database.
const Memory = ":memory:"

// Database is an opened DuckDB instance. It stays open until Close is called
// and cannot be closed while any Connection created from it is still open.
type Database struct {
	handle Handle
	path   string
	cfg    *Config
	eng    engine
	// cached is the local copy of a remote database, removed on Close.
	cached string
	mu     sync.Mutex
}

// Open opens the database at path with the given configuration. A nil
// config uses the engine defaults.
func Open(path string, cfg *Config) (*Database, error) {
	return OpenContext(context.Background(), path, cfg)
}

// OpenContext is Open with a context covering the download of remote
// databases and the engine start-up.
func OpenContext(ctx context.Context, path string, cfg *Config) (*Database, error) {
	if path == "" {
		path = Memory
	}

	var c *Config
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, wrapError(OpenFailure, "invalid configuration", err)
		}
		copied := *cfg
		c = &copied
	} else {
		c = DefaultConfig()
	}

	if detectScheme(path).remote() && c.AccessMode == "" {
		c.AccessMode = "read_only"
	}

	local, cached, err := resolveLocation(ctx, path, c)
	if err != nil {
		return nil, wrapError(OpenFailure, "resolving "+path, err)
	}

	open, ok := backends[c.backend()]
	if !ok {
		removeCached(cached)
		return nil, NewError(OpenFailure, "unknown backend "+strconv.Quote(c.backend()))
	}
	eng, err := open(ctx, local, c)
	if err != nil {
		removeCached(cached)
		return nil, wrapError(OpenFailure, "opening "+path, err)
	}

	h, err := handles.register(DatabaseResource, Handle{}, nil)
	if err != nil {
		eng.close()
		removeCached(cached)
		return nil, err
	}

	logger().Debug("database opened", "path", path, "backend", c.backend(), "handle", h.String())
	return &Database{
		handle: h,
		path:   path,
		cfg:    c,
		eng:    eng,
		cached: cached,
	}, nil
}

func removeCached(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger().Warn("removing cached database", "path", path, "error", err)
	}
}

// Handle returns the opaque handle of the database.
func (d *Database) Handle() Handle {
	return d.handle
}

// Path returns the storage location the database was opened with.
func (d *Database) Path() string {
	return d.path
}

// Config returns a copy of the effective configuration.
func (d *Database) Config() Config {
	return *d.cfg
}

// Connect opens a new connection to the database.
func (d *Database) Connect() (*Connection, error) {
	return d.ConnectContext(context.Background())
}

// ConnectContext opens a new connection to the database.
func (d *Database) ConnectContext(ctx context.Context) (*Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := handles.check(d.handle); err != nil {
		return nil, err
	}

	sess, err := d.eng.connect(ctx)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		db:        d,
		sess:      sess,
		chunkSize: d.cfg.chunkSize(),
	}
	h, err := handles.register(ConnectionResource, d.handle, nil)
	if err != nil {
		sess.close()
		return nil, err
	}
	c.handle = h

	logger().Debug("connection opened", "database", d.handle.String(), "handle", h.String())
	return c, nil
}

// NumberOfThreads returns the number of worker threads the engine uses.
func (d *Database) NumberOfThreads() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := handles.check(d.handle); err != nil {
		return 0, err
	}

	ctx := context.Background()
	sess, err := d.eng.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.close()

	row, err := queryOne(ctx, sess, "SELECT current_setting('threads')")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(row[0].String()))
	if err != nil {
		return 0, wrapError(ExecutionError, "reading thread count", err)
	}
	return n, nil
}

// Close shuts the engine down. It fails with a ResourceBusy error while
// connections are open and with a ClosedHandle error when already closed.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := handles.release(d.handle, false); err != nil {
		return err
	}

	err := d.eng.close()
	removeCached(d.cached)
	logger().Debug("database closed", "path", d.path, "handle", d.handle.String())
	if err != nil {
		return wrapError(ExecutionError, "closing database", err)
	}
	return nil
}

// queryOne runs a query expected to return a single row.
func queryOne(ctx context.Context, sess session, query string) (Row, error) {
	cur, err := sess.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cur.close()

	rows, err := cur.next(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, NewError(ExecutionError, "query returned no rows")
	}
	return rows[0], nil
}
