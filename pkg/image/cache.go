package image

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrCacheMiss indicates no cached image exists for the digest.
var ErrCacheMiss = errors.New("image: cache miss")

// Cache is a SQLite-backed compile cache keyed by source digest. One row
// per digest; recompiling the same source replaces the row.
type Cache struct {
	db  *sql.DB
	log commonlog.Logger
	mu  sync.Mutex
}

// OpenCache opens (creating if needed) the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("image: opening cache: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("image: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS images (
		digest BLOB PRIMARY KEY,
		build_id TEXT NOT NULL,
		built_at INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("image: creating cache table: %w", err)
	}

	return &Cache{db: db, log: commonlog.GetLogger("peridot.image.cache")}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores an image under its source digest, replacing any earlier build.
func (c *Cache) Put(digest []byte, img *Image) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := Marshal(img)
	if err != nil {
		return err
	}
	if _, err := c.db.Exec(
		"INSERT OR REPLACE INTO images (digest, build_id, built_at, data) VALUES (?, ?, ?, ?)",
		digest, img.BuildID, img.BuiltAt, data,
	); err != nil {
		return fmt.Errorf("image: storing cached image: %w", err)
	}
	c.log.Debugf("cached image %s (%x)", img.BuildID, digest[:8])
	return nil
}

// Get loads the cached image for a source digest, or ErrCacheMiss.
func (c *Cache) Get(digest []byte) (*Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow("SELECT data FROM images WHERE digest = ?", digest).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("image: querying cache: %w", err)
	}
	img, err := Unmarshal(data)
	if err != nil {
		// A corrupt or stale-format row is a miss, not a failure; the
		// caller recompiles and overwrites it.
		c.log.Noticef("dropping unreadable cache row %x: %v", digest[:8], err)
		return nil, ErrCacheMiss
	}
	return img, nil
}

// Prune deletes rows older than the retention window.
func (c *Cache) Prune(olderThan time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := c.db.Exec("DELETE FROM images WHERE built_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("image: pruning cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
