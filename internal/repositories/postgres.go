package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roundcast/backend/internal/db"
	"github.com/roundcast/backend/internal/models"
)

const artifactColumns = `id, owner_id, content_handle, relay_message_id, source_handle, overlay_text, caption, effect, duration, width, height, created_at`

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Upsert records the user on first contact and refreshes the display name afterwards.
// The registration timestamp is never overwritten.
func (r *PostgresUserRepository) Upsert(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	registered := user.RegisteredAt
	if registered.IsZero() {
		registered = time.Now().UTC()
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, username, display_name, registered_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id)
        DO UPDATE SET username = EXCLUDED.username, display_name = EXCLUDED.display_name
    `, user.ID, user.Username, user.DisplayName, registered)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	return nil
}

// Find fetches a user by platform identity.
func (r *PostgresUserRepository) Find(ctx context.Context, id int64) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, display_name, registered_at
        FROM users
        WHERE id = $1
    `, id)

	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.RegisteredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	user.RegisteredAt = user.RegisteredAt.UTC()

	return user, nil
}

// PostgresArtifactRepository provides PostgreSQL-backed persistence for artifacts.
type PostgresArtifactRepository struct {
	pool db.Pool
}

// NewPostgresArtifactRepository constructs an artifact repository backed by PostgreSQL.
func NewPostgresArtifactRepository(pool db.Pool) *PostgresArtifactRepository {
	return &PostgresArtifactRepository{pool: pool}
}

// Create stores a new artifact and returns it with the assigned identifier.
func (r *PostgresArtifactRepository) Create(ctx context.Context, a models.Artifact) (models.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	row := conn.QueryRow(ctx, `
        INSERT INTO artifacts (owner_id, content_handle, relay_message_id, source_handle, overlay_text, caption, effect, duration, width, height, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id
    `, a.OwnerID, a.ContentHandle, a.RelayMessage, a.SourceHandle, a.Text, a.Caption, string(a.Effect), a.Duration, a.Width, a.Height, a.CreatedAt)
	if err := row.Scan(&a.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return models.Artifact{}, ErrConflict
			case "23503":
				return models.Artifact{}, ErrNotFound
			}
		}
		return models.Artifact{}, fmt.Errorf("insert artifact: %w", err)
	}

	return a, nil
}

// Update replaces the mutable fields of an existing artifact.
func (r *PostgresArtifactRepository) Update(ctx context.Context, a models.Artifact) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE artifacts
        SET content_handle = $2,
            relay_message_id = $3,
            source_handle = $4,
            overlay_text = $5,
            caption = $6,
            effect = $7,
            duration = $8,
            width = $9,
            height = $10
        WHERE id = $1
    `, a.ID, a.ContentHandle, a.RelayMessage, a.SourceHandle, a.Text, a.Caption, string(a.Effect), a.Duration, a.Width, a.Height)
	if err != nil {
		return fmt.Errorf("update artifact: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes an artifact.
func (r *PostgresArtifactRepository) Delete(ctx context.Context, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Get fetches an artifact by identifier.
func (r *PostgresArtifactRepository) Get(ctx context.Context, id int64) (models.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Artifact{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Artifact{}, ErrNotFound
		}
		return models.Artifact{}, fmt.Errorf("select artifact: %w", err)
	}

	return a, nil
}

// ListByOwner returns the owner's artifacts newest first. A non-positive limit returns all rows.
func (r *PostgresArtifactRepository) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]models.Artifact, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
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

// PostgresTemplateRepository provides PostgreSQL-backed persistence for templates.
type PostgresTemplateRepository struct {
	pool db.Pool
}

// NewPostgresTemplateRepository constructs a template repository backed by PostgreSQL.
func NewPostgresTemplateRepository(pool db.Pool) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{pool: pool}
}

// Create stores a template snapshot.
func (r *PostgresTemplateRepository) Create(ctx context.Context, tpl models.Template) (models.Template, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Template{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	row := conn.QueryRow(ctx, `
        INSERT INTO templates (owner_id, content_handle, created_at)
        VALUES ($1, $2, $3)
        RETURNING id
    `, tpl.OwnerID, tpl.ContentHandle, tpl.CreatedAt)
	if err := row.Scan(&tpl.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Template{}, ErrConflict
		}
		return models.Template{}, fmt.Errorf("insert template: %w", err)
	}

	return tpl, nil
}

// Delete removes one of the owner's templates.
func (r *PostgresTemplateRepository) Delete(ctx context.Context, ownerID, id int64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM templates WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByOwner returns the owner's templates newest first.
func (r *PostgresTemplateRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.Template, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, owner_id, content_handle, created_at
        FROM templates
        WHERE owner_id = $1
        ORDER BY created_at DESC, id DESC
    `, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		var tpl models.Template
		if err := rows.Scan(&tpl.ID, &tpl.OwnerID, &tpl.ContentHandle, &tpl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.CreatedAt = tpl.CreatedAt.UTC()
		templates = append(templates, tpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}

	return templates, nil
}

// NewPostgresContentStore wires the PostgreSQL repositories over one pool.
func NewPostgresContentStore(pool db.Pool) ContentStore {
	return ContentStore{
		Users:     NewPostgresUserRepository(pool),
		Artifacts: NewPostgresArtifactRepository(pool),
		Templates: NewPostgresTemplateRepository(pool),
		Ping: func(ctx context.Context) error {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire connection: %w", err)
			}
			defer conn.Release()
			return conn.Ping(ctx)
		},
		Close: pool.Close,
	}
}

func scanArtifact(row pgx.Row) (models.Artifact, error) {
	var (
		a      models.Artifact
		effect string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.ContentHandle, &a.RelayMessage, &a.SourceHandle, &a.Text, &a.Caption, &effect, &a.Duration, &a.Width, &a.Height, &a.CreatedAt); err != nil {
		return models.Artifact{}, err
	}
	a.Effect = models.Effect(effect)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

var _ UserRepository = (*PostgresUserRepository)(nil)
var _ ArtifactRepository = (*PostgresArtifactRepository)(nil)
var _ TemplateRepository = (*PostgresTemplateRepository)(nil)
