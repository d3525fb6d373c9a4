package repositories

import (
	"context"

	"github.com/roundcast/backend/internal/models"
)

// UserRepository defines the data access contract for users.
type UserRepository interface {
	Upsert(ctx context.Context, user models.User) error
	Find(ctx context.Context, id int64) (models.User, error)
}

// ArtifactRepository exposes data access for composed video notes.
type ArtifactRepository interface {
	Create(ctx context.Context, artifact models.Artifact) (models.Artifact, error)
	Update(ctx context.Context, artifact models.Artifact) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (models.Artifact, error)
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]models.Artifact, error)
}

// TemplateRepository exposes data access for saved templates.
type TemplateRepository interface {
	Create(ctx context.Context, tpl models.Template) (models.Template, error)
	Delete(ctx context.Context, ownerID, id int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Template, error)
}

// ContentStore bundles the repositories backing the catalog.
type ContentStore struct {
	Users     UserRepository
	Artifacts ArtifactRepository
	Templates TemplateRepository
	Ping      func(ctx context.Context) error
	Close     func()
}
