package repositories

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roundcast/backend/internal/models"
)

//go:embed sqlite_migrations/*.sql
var sqliteMigrationFS embed.FS

// sqliteTimeLayout is fixed width so that lexical order matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements every repository on a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ContentStore exposes the store through the repository bundle.
func (s *SQLiteStore) ContentStore() ContentStore {
	return ContentStore{
		Users:     sqliteUsers{s},
		Artifacts: sqliteArtifacts{s},
		Templates: sqliteTemplates{s},
		Ping:      s.db.PingContext,
		Close:     func() { _ = s.Close() },
	}
}

// AppliedMigrations lists recorded migration versions in order.
func (s *SQLiteStore) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	entries, err := sqliteMigrationFS.ReadDir("sqlite_migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		contents, err := sqliteMigrationFS.ReadFile("sqlite_migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

type sqliteUsers struct{ s *SQLiteStore }

func (r sqliteUsers) Upsert(ctx context.Context, user models.User) error {
	registered := user.RegisteredAt
	if registered.IsZero() {
		registered = time.Now()
	}
	_, err := r.s.db.ExecContext(ctx, `
        INSERT INTO users (id, username, display_name, registered_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (id)
        DO UPDATE SET username = excluded.username, display_name = excluded.display_name
    `, user.ID, user.Username, user.DisplayName, formatTime(registered))
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r sqliteUsers) Find(ctx context.Context, id int64) (models.User, error) {
	var (
		user       models.User
		registered string
	)
	err := r.s.db.QueryRowContext(ctx, `SELECT id, username, display_name, registered_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.Username, &user.DisplayName, &registered)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	user.RegisteredAt = parseTime(registered)
	return user, nil
}

type sqliteArtifacts struct{ s *SQLiteStore }

func (r sqliteArtifacts) Create(ctx context.Context, a models.Artifact) (models.Artifact, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := r.s.db.ExecContext(ctx, `
        INSERT INTO artifacts (owner_id, content_handle, relay_message_id, source_handle, overlay_text, caption, effect, duration, width, height, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, a.OwnerID, a.ContentHandle, a.RelayMessage, a.SourceHandle, a.Text, a.Caption, string(a.Effect), a.Duration, a.Width, a.Height, formatTime(a.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err, "FOREIGN KEY") {
			return models.Artifact{}, ErrNotFound
		}
		return models.Artifact{}, fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Artifact{}, fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	return a, nil
}

func (r sqliteArtifacts) Update(ctx context.Context, a models.Artifact) error {
	res, err := r.s.db.ExecContext(ctx, `
        UPDATE artifacts
        SET content_handle = ?, relay_message_id = ?, source_handle = ?, overlay_text = ?,
            caption = ?, effect = ?, duration = ?, width = ?, height = ?
        WHERE id = ?
    `, a.ContentHandle, a.RelayMessage, a.SourceHandle, a.Text, a.Caption, string(a.Effect), a.Duration, a.Width, a.Height, a.ID)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}
	return requireAffected(res)
}

func (r sqliteArtifacts) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return requireAffected(res)
}

func (r sqliteArtifacts) Get(ctx context.Context, id int64) (models.Artifact, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanSQLiteArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Artifact{}, ErrNotFound
	}
	if err != nil {
		return models.Artifact{}, fmt.Errorf("select artifact: %w", err)
	}
	return a, nil
}

func (r sqliteArtifacts) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]models.Artifact, error) {
	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE owner_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		a, err := scanSQLiteArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

type sqliteTemplates struct{ s *SQLiteStore }

func (r sqliteTemplates) Create(ctx context.Context, tpl models.Template) (models.Template, error) {
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	res, err := r.s.db.ExecContext(ctx, `INSERT INTO templates (owner_id, content_handle, created_at) VALUES (?, ?, ?)`,
		tpl.OwnerID, tpl.ContentHandle, formatTime(tpl.CreatedAt))
	if err != nil {
		if isSQLiteConstraint(err, "FOREIGN KEY") {
			return models.Template{}, ErrNotFound
		}
		return models.Template{}, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Template{}, fmt.Errorf("last insert id: %w", err)
	}
	tpl.ID = id
	return tpl, nil
}

func (r sqliteTemplates) Delete(ctx context.Context, ownerID, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireAffected(res)
}

func (r sqliteTemplates) ListByOwner(ctx context.Context, ownerID int64) ([]models.Template, error) {
	rows, err := r.s.db.QueryContext(ctx, `
        SELECT id, owner_id, content_handle, created_at
        FROM templates
        WHERE owner_id = ?
        ORDER BY created_at DESC, id DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		var (
			tpl     models.Template
			created string
		)
		if err := rows.Scan(&tpl.ID, &tpl.OwnerID, &tpl.ContentHandle, &created); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.CreatedAt = parseTime(created)
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteArtifact(row sqliteScanner) (models.Artifact, error) {
	var (
		a       models.Artifact
		effect  string
		created string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.ContentHandle, &a.RelayMessage, &a.SourceHandle, &a.Text, &a.Caption, &effect, &a.Duration, &a.Width, &a.Height, &created); err != nil {
		return models.Artifact{}, err
	}
	a.Effect = models.Effect(effect)
	a.CreatedAt = parseTime(created)
	return a, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isSQLiteConstraint(err error, kind string) bool {
	return err != nil && strings.Contains(err.Error(), kind+" constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ UserRepository = sqliteUsers{}
var _ ArtifactRepository = sqliteArtifacts{}
var _ TemplateRepository = sqliteTemplates{}
