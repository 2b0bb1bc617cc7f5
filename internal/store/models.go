package store

import "time"

type Tenant struct {
	Slug      string
	Name      string
	CreatedAt time.Time
}

type Project struct {
	TenantSlug         string
	Slug               string
	Key                string
	RequirementCounter int64
	CreatedAt          time.Time
}

type Document struct {
	TenantSlug         string
	ProjectSlug        string
	Slug               string
	Name               string
	ShortCode          string
	RequirementCounter int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type DocumentSection struct {
	ID           string
	TenantSlug   string
	ProjectSlug  string
	DocumentSlug string
	Name         string
	ShortCode    string
	SortOrder    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Requirement is a single requirement node. HashID is the rename-stable
// identifier; ID is the composite tenant:project:ref assigned at creation
// and never rewritten; Ref is human-readable and rewritten by cascades.
type Requirement struct {
	HashID       string
	ID           string
	TenantSlug   string
	ProjectSlug  string
	DocumentSlug string
	SectionID    string
	Ref          string
	Text         string
	Pattern      string
	Verification string
	QAVerdict    string
	QANotes      string
	Tags         []string
	Path         string
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateRequirementInput names the scope and initial field values for a new
// requirement. DocumentSlug and SectionID are both optional; a section
// always implies its document.
type CreateRequirementInput struct {
	TenantSlug   string
	ProjectSlug  string
	DocumentSlug string
	SectionID    string
	Text         string
	Pattern      string
	Verification string
	QAVerdict    string
	QANotes      string
	Tags         []string
	Path         string
}

// RequirementPatch enumerates the fields a direct edit is allowed to touch.
// Nil means "leave unchanged". Ref, HashID, scope links and the deleted flag
// are deliberately not patchable.
type RequirementPatch struct {
	Text         *string
	Pattern      *string
	Verification *string
	QAVerdict    *string
	QANotes      *string
	Tags         *[]string
	Path         *string
}

// Empty reports whether the patch changes nothing.
func (p RequirementPatch) Empty() bool {
	return p.Text == nil && p.Pattern == nil && p.Verification == nil &&
		p.QAVerdict == nil && p.QANotes == nil && p.Tags == nil && p.Path == nil
}

// RequirementFilter narrows list reads. Deleted records are excluded unless
// IncludeDeleted is set.
type RequirementFilter struct {
	DocumentSlug   string
	SectionID      string
	IncludeDeleted bool
}

// DocumentRename carries the naming attributes a document rename may change.
type DocumentRename struct {
	ShortCode *string
	Name      *string
}

// SectionRename carries the naming attributes a section rename may change.
type SectionRename struct {
	ShortCode *string
	Name      *string
}
