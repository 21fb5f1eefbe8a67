package types

import "time"

// Status is the lifecycle state of an article.
type Status string

// Article states. StatusScheduled is entered from draft and left only by
// external scheduling logic, which publishes the article.
const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusScheduled Status = "scheduled"
	StatusDeleted   Status = "deleted"
)

// validStatuses is the set of recognized article states.
var validStatuses = map[Status]bool{
	StatusDraft:     true,
	StatusPublished: true,
	StatusArchived:  true,
	StatusScheduled: true,
	StatusDeleted:   true,
}

// transitions lists the allowed non-identity moves.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPublished, StatusScheduled, StatusDeleted},
	StatusPublished: {StatusArchived, StatusDeleted},
	StatusArchived:  {StatusDeleted},
	StatusScheduled: {StatusPublished, StatusDeleted},
	StatusDeleted:   {StatusDraft},
}

// Valid reports whether s is a recognized state.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// CanTransition reports whether an article may move from s to next.
// Staying in the same state is always allowed.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Article is a piece of content. ID is the integer key shared by both
// engines; foreign keys are nil when unset.
type Article struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title"`
	Slug          string         `json:"slug"`
	Content       string         `json:"content"`
	Excerpt       string         `json:"excerpt"`
	Status        Status         `json:"status"`
	CategoryID    *int64         `json:"category_id"`
	AuthorID      *int64         `json:"author_id"`
	FeaturedImage *FeaturedImage `json:"featured_image"`
	Tags          Tags           `json:"tags"`
	IsFeatured    bool           `json:"is_featured"`
	ViewCount     int64          `json:"view_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	PublishedAt   *time.Time     `json:"published_at"`
}

// SetStatus moves the article to next.
// Returns ErrInvalidTransition if the move is not allowed.
// Idempotent: setting the current state succeeds without error.
func (a *Article) SetStatus(next Status) error {
	if !a.Status.CanTransition(next) {
		return ErrInvalidTransition
	}
	if a.Status == next {
		return nil
	}
	now := time.Now().UTC()
	if next == StatusPublished && a.PublishedAt == nil {
		a.PublishedAt = &now
	}
	a.Status = next
	a.UpdatedAt = now
	return nil
}

// SoftDelete marks the article deleted. Idempotent.
func (a *Article) SoftDelete() error {
	return a.SetStatus(StatusDeleted)
}

// Restore returns a soft-deleted article to draft.
// Returns ErrInvalidTransition if the article is not deleted.
func (a *Article) Restore() error {
	if a.Status != StatusDeleted {
		return ErrInvalidTransition
	}
	return a.SetStatus(StatusDraft)
}

// Category groups articles. ParentID is nil for top-level categories.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	Icon        string    `json:"icon"`
	ParentID    *int64    `json:"parent_id"`
	IsActive    bool      `json:"is_active"`
	SortOrder   int64     `json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is an author or administrator.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash,omitempty"`
	Role         string    `json:"role"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	DisplayName  string    `json:"display_name"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
