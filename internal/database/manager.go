// Package database is the durable store behind the account directory, the
// track catalog and the room store. Reads run concurrently on the pool;
// writes are funnelled through a single writer goroutine.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"syncplayer/internal/config"
	"syncplayer/pkg/types"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Manager struct {
	db         *sql.DB
	driver     string
	timeout    time.Duration
	retryDelay time.Duration
	log        zerolog.Logger

	writeCh  chan writeOperation
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, db *sql.DB) error
	result    chan error
}

// NewManager opens the configured database. The schema must already be
// migrated; see Migrate.
func NewManager(cfg *config.DatabaseConfig, log zerolog.Logger) (*Manager, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, ErrMissingDSN
	}
	dsn := cfg.DSN
	switch cfg.Driver {
	case DriverSQLite:
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		if err := applySQLiteOptimizations(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
		}
	}

	m := &Manager{
		db:         db,
		driver:     cfg.Driver,
		timeout:    cfg.Timeout,
		retryDelay: cfg.WriteRetryDelay,
		log:        log.With().Str("component", "database").Str("driver", cfg.Driver).Logger(),
		writeCh:    make(chan writeOperation, 100),
		shutdown:   make(chan struct{}),
	}
	if m.timeout <= 0 {
		m.timeout = 30 * time.Second
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

// writeLoop applies writes one at a time. A failed write is retried once
// after retryDelay unless it failed because the row does not exist.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			err := op.operation(op.ctx, m.db)
			if err != nil && !errors.Is(err, types.ErrNotFound) && op.ctx.Err() == nil {
				m.log.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database write failed, retrying")
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(op.ctx, m.db)
					if err != nil {
						m.log.Error().Err(err).Msg("database write failed after retry")
					}
				case <-op.ctx.Done():
					err = op.ctx.Err()
				case <-m.shutdown:
				}
			}
			op.result <- err
		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, db *sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-time.After(m.timeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (m *Manager) rebind(query string) string {
	if m.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (m *Manager) exec(ctx context.Context, db *sql.DB, query string, args ...any) (int64, error) {
	res, err := db.ExecContext(ctx, m.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveUser finds the account holding an access token.
func (m *Manager) ResolveUser(ctx context.Context, token string) (types.Account, error) {
	if token == "" {
		return types.Account{}, types.NotFoundf("user not found")
	}
	return m.queryAccount(ctx, `SELECT id, name, email, profile_image FROM users WHERE token = ?`, token)
}

func (m *Manager) LookupUser(ctx context.Context, userID string) (types.Account, error) {
	return m.queryAccount(ctx, `SELECT id, name, email, profile_image FROM users WHERE id = ?`, userID)
}

func (m *Manager) queryAccount(ctx context.Context, query string, arg string) (types.Account, error) {
	var a types.Account
	err := m.db.QueryRowContext(ctx, m.rebind(query), arg).Scan(&a.ID, &a.Name, &a.Email, &a.ProfileImage)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Account{}, types.NotFoundf("user not found")
	}
	if err != nil {
		return types.Account{}, fmt.Errorf("failed to query user: %w", err)
	}
	return a, nil
}

// UpsertAccount creates or updates an account and its access token.
func (m *Manager) UpsertAccount(ctx context.Context, a types.Account, token string) error {
	var tok any
	if token != "" {
		tok = token
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := m.exec(ctx, db, `
			INSERT INTO users (id, name, email, profile_image, token)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				profile_image = excluded.profile_image,
				token = excluded.token`,
			a.ID, a.Name, a.Email, a.ProfileImage, tok)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

func (m *Manager) FindTrack(ctx context.Context, trackID string) (types.Track, error) {
	var t types.Track
	err := m.db.QueryRowContext(ctx, m.rebind(`
		SELECT id, title, artist, length, url, cover, times_played
		FROM songs WHERE id = ?`), trackID).
		Scan(&t.ID, &t.Title, &t.Artist, &t.Length, &t.URL, &t.Cover, &t.TimesPlayed)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Track{}, types.NotFoundf("song not found")
	}
	if err != nil {
		return types.Track{}, fmt.Errorf("failed to query song: %w", err)
	}
	return t, nil
}

func (m *Manager) IncrementPlayCount(ctx context.Context, trackID string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		n, err := m.exec(ctx, db, `UPDATE songs SET times_played = times_played + 1 WHERE id = ?`, trackID)
		if err != nil {
			return fmt.Errorf("failed to count play: %w", err)
		}
		if n == 0 {
			return types.NotFoundf("song not found")
		}
		return nil
	})
}

// UpsertTrack adds or updates catalog metadata. The play count is kept.
func (m *Manager) UpsertTrack(ctx context.Context, t types.Track) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := m.exec(ctx, db, `
			INSERT INTO songs (id, title, artist, length, url, cover)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title,
				artist = excluded.artist,
				length = excluded.length,
				url = excluded.url,
				cover = excluded.cover`,
			t.ID, t.Title, t.Artist, t.Length, t.URL, t.Cover)
		if err != nil {
			return fmt.Errorf("failed to upsert song: %w", err)
		}
		return nil
	})
}

// LoadRoom returns the room with its playlist resolved against the catalog.
// Playlist entries missing from the catalog are skipped.
func (m *Manager) LoadRoom(ctx context.Context, roomID string) (types.RoomRecord, error) {
	var rec types.RoomRecord
	var adminsJSON, trackJSON string
	err := m.db.QueryRowContext(ctx, m.rebind(`
		SELECT id, name, owner_id, admins, playlist, created_at, updated_at
		FROM rooms WHERE id = ?`), roomID).
		Scan(&rec.ID, &rec.Name, &rec.OwnerID, &adminsJSON, &trackJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoomRecord{}, types.NotFoundf("room not found")
	}
	if err != nil {
		return types.RoomRecord{}, fmt.Errorf("failed to query room: %w", err)
	}

	if err := json.Unmarshal([]byte(adminsJSON), &rec.Admins); err != nil {
		return types.RoomRecord{}, fmt.Errorf("failed to unmarshal room admins: %w", err)
	}
	var trackIDs []string
	if err := json.Unmarshal([]byte(trackJSON), &trackIDs); err != nil {
		return types.RoomRecord{}, fmt.Errorf("failed to unmarshal room playlist: %w", err)
	}

	rec.Playlist = make([]types.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		t, err := m.FindTrack(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			m.log.Warn().Str("room", roomID).Str("track", id).Msg("room references a missing song")
			continue
		}
		if err != nil {
			return types.RoomRecord{}, err
		}
		rec.Playlist = append(rec.Playlist, t)
	}
	if rec.Admins == nil {
		rec.Admins = []string{}
	}
	return rec, nil
}

func (m *Manager) CreateRoom(ctx context.Context, rec types.RoomRecord) error {
	admins, err := json.Marshal(nonNil(rec.Admins))
	if err != nil {
		return fmt.Errorf("failed to marshal room admins: %w", err)
	}
	playlist, err := json.Marshal(trackIDs(rec.Playlist))
	if err != nil {
		return fmt.Errorf("failed to marshal room playlist: %w", err)
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := m.exec(ctx, db, `
			INSERT INTO rooms (id, name, owner_id, admins, playlist, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.OwnerID, string(admins), string(playlist), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		return nil
	})
}

func (m *Manager) SaveRoomPlaylist(ctx context.Context, roomID string, ids []string) error {
	return m.updateRoomList(ctx, roomID, "playlist", ids)
}

func (m *Manager) SaveRoomAdmins(ctx context.Context, roomID string, ids []string) error {
	return m.updateRoomList(ctx, roomID, "admins", ids)
}

// updateRoomList replaces one JSON list column. column is never user input.
func (m *Manager) updateRoomList(ctx context.Context, roomID, column string, ids []string) error {
	data, err := json.Marshal(nonNil(ids))
	if err != nil {
		return fmt.Errorf("failed to marshal room %s: %w", column, err)
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		n, err := m.exec(ctx, db,
			`UPDATE rooms SET `+column+` = ?, updated_at = ? WHERE id = ?`,
			string(data), time.Now().UTC(), roomID)
		if err != nil {
			return fmt.Errorf("failed to update room %s: %w", column, err)
		}
		if n == 0 {
			return types.NotFoundf("room not found")
		}
		return nil
	})
}

func (m *Manager) DeleteRoom(ctx context.Context, roomID string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		n, err := m.exec(ctx, db, `DELETE FROM rooms WHERE id = ?`, roomID)
		if err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		if n == 0 {
			return types.NotFoundf("room not found")
		}
		return nil
	})
}

// HealthCheck validates connectivity and that the schema is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func trackIDs(tracks []types.Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}
