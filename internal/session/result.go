package session

import "github.com/roundcast/backend/internal/models"

// MenuKind selects which keyboard the router renders.
type MenuKind int

const (
	MenuNone MenuKind = iota
	MenuMain
	MenuComposing
	MenuArtifact
	MenuTemplate
	MenuSkip
	MenuEffects
)

// Menu describes a keyboard without rendering it.
type Menu struct {
	Kind       MenuKind
	ArtifactID int64
	TemplateID int64
	Fields     []Field
	Effects    []models.Effect
	Templates  bool
}

// Item is one entry of a listing.
type Item struct {
	ID          int64
	MediaHandle string
	Caption     string
	Menu        Menu
}

// Result is the user-facing outcome of an event. The router renders Text and
// MediaHandle (with Caption) and then each Item in order. A non-zero
// DeletePreview is a chat message the router should remove.
type Result struct {
	Text          string
	MediaHandle   string
	Caption       string
	Menu          Menu
	Items         []Item
	DeletePreview int
}

// InlineResult is one answer to an inline query.
type InlineResult struct {
	ID          string
	MediaHandle string
	Title       string
	Caption     string
}
