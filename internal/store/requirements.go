package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"reqgraph/api/internal/refcode"
)

// CreateRequirement allocates the next reference under the named scope and
// inserts the requirement, all inside one transaction. The counter
// increment takes a row lock on the scope row, which is what serializes
// concurrent creates under the same scope; the collision scan then corrects
// for counter drift against the refs that actually exist.
func (s *PostgresStore) CreateRequirement(ctx context.Context, input CreateRequirementInput) (Requirement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Requirement{}, fmt.Errorf("begin create requirement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureAncestors(ctx, tx, input.TenantSlug, input.ProjectSlug); err != nil {
		return Requirement{}, err
	}

	doc, section, documentSlug, sectionID, err := resolveScope(ctx, tx, input)
	if err != nil {
		return Requirement{}, err
	}
	prefix := refcode.Prefix(input.ProjectSlug, doc, section)

	counter, err := incrementCounter(ctx, tx, input.TenantSlug, input.ProjectSlug, documentSlug)
	if err != nil {
		return Requirement{}, err
	}

	maxExisting, found, err := maxSuffixUnder(ctx, tx, input.TenantSlug, input.ProjectSlug, prefix)
	if err != nil {
		return Requirement{}, err
	}
	suffix := int(counter)
	if found && maxExisting >= suffix {
		suffix = maxExisting + 1
	}

	ref := refcode.Format(prefix, suffix)
	hashID := uuid.NewString()
	compositeID := input.TenantSlug + ":" + input.ProjectSlug + ":" + ref
	tags, err := encodeTags(input.Tags)
	if err != nil {
		return Requirement{}, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO requirements (hash_id, id, tenant_slug, project_slug, document_slug, section_id, ref, body, pattern, verification, qa_verdict, qa_notes, tags, path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)
		RETURNING `+requirementColumns+`
	`, hashID, compositeID, input.TenantSlug, input.ProjectSlug, documentSlug, sectionID,
		ref, input.Text, input.Pattern, input.Verification, input.QAVerdict, input.QANotes, tags, input.Path)
	item, err := scanRequirement(row)
	if err != nil {
		return Requirement{}, fmt.Errorf("insert requirement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Requirement{}, fmt.Errorf("commit create requirement: %w", err)
	}
	return item, nil
}

// ensureAncestors upserts the tenant and project chain (create-if-absent)
// so a requirement can always attach to its owners.
func ensureAncestors(ctx context.Context, tx *sql.Tx, tenantSlug, projectSlug string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tenants (slug) VALUES ($1)
		ON CONFLICT (slug) DO NOTHING
	`, tenantSlug); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (tenant_slug, slug) VALUES ($1, $2)
		ON CONFLICT (tenant_slug, slug) DO NOTHING
	`, tenantSlug, projectSlug); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// resolveScope loads the naming attributes of the owning document/section.
// A missing document or section aborts the create with ErrScopeNotFound.
func resolveScope(ctx context.Context, tx *sql.Tx, input CreateRequirementInput) (*refcode.Document, *refcode.Section, string, string, error) {
	if input.SectionID != "" {
		var documentSlug, docShortCode, sectionName, sectionShortCode string
		err := tx.QueryRowContext(ctx, `
			SELECT d.slug, d.short_code, s.name, s.short_code
			FROM document_sections s
			JOIN documents d
			  ON d.tenant_slug = s.tenant_slug
			 AND d.project_slug = s.project_slug
			 AND d.slug = s.document_slug
			WHERE s.id = $3
			  AND s.tenant_slug = $1
			  AND s.project_slug = $2
			  AND ($4 = '' OR s.document_slug = $4)
		`, input.TenantSlug, input.ProjectSlug, input.SectionID, input.DocumentSlug).
			Scan(&documentSlug, &docShortCode, &sectionName, &sectionShortCode)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, "", "", ErrScopeNotFound
		}
		if err != nil {
			return nil, nil, "", "", fmt.Errorf("resolve section scope: %w", err)
		}
		return &refcode.Document{Slug: documentSlug, ShortCode: docShortCode},
			&refcode.Section{Name: sectionName, ShortCode: sectionShortCode},
			documentSlug, input.SectionID, nil
	}

	if input.DocumentSlug != "" {
		var slug, shortCode string
		err := tx.QueryRowContext(ctx, `
			SELECT slug, short_code FROM documents
			WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
		`, input.TenantSlug, input.ProjectSlug, input.DocumentSlug).Scan(&slug, &shortCode)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, "", "", ErrScopeNotFound
		}
		if err != nil {
			return nil, nil, "", "", fmt.Errorf("resolve document scope: %w", err)
		}
		return &refcode.Document{Slug: slug, ShortCode: shortCode}, nil, slug, "", nil
	}

	return nil, nil, "", "", nil
}

// incrementCounter bumps the scope counter (document when present, project
// otherwise) and returns the new value. Counters only ever go up.
func incrementCounter(ctx context.Context, tx *sql.Tx, tenantSlug, projectSlug, documentSlug string) (int64, error) {
	var counter int64
	if documentSlug != "" {
		err := tx.QueryRowContext(ctx, `
			UPDATE documents SET requirement_counter = requirement_counter + 1
			WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
			RETURNING requirement_counter
		`, tenantSlug, projectSlug, documentSlug).Scan(&counter)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrScopeNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("increment document counter: %w", err)
		}
		return counter, nil
	}
	err := tx.QueryRowContext(ctx, `
		UPDATE projects SET requirement_counter = requirement_counter + 1
		WHERE tenant_slug = $1 AND slug = $2
		RETURNING requirement_counter
	`, tenantSlug, projectSlug).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrScopeNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment project counter: %w", err)
	}
	return counter, nil
}

// maxSuffixUnder scans every ref in the tenant+project that sits exactly
// under the prefix and returns the highest numeric suffix. This scan, not
// the counter, is the source of truth for the highest used suffix.
func maxSuffixUnder(ctx context.Context, tx *sql.Tx, tenantSlug, projectSlug, prefix string) (int, bool, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT ref FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2 AND ref ~ $3
	`, tenantSlug, projectSlug, refcode.ScanPattern(prefix))
	if err != nil {
		return 0, false, fmt.Errorf("scan existing refs: %w", err)
	}
	defer rows.Close()

	highest := 0
	found := false
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return 0, false, fmt.Errorf("scan ref: %w", err)
		}
		if n, ok := refcode.SuffixUnder(prefix, ref); ok {
			if !found || n > highest {
				highest = n
				found = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate refs: %w", err)
	}
	return highest, found, nil
}

// GetRequirement fetches by ref regardless of deleted state; direct reads
// stay available for audit access.
func (s *PostgresStore) GetRequirement(ctx context.Context, tenantSlug, projectSlug, ref string) (Requirement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requirementColumns+` FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2 AND ref = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantSlug, projectSlug, ref)
	item, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Requirement{}, ErrNotFound
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("get requirement: %w", err)
	}
	return item, nil
}

// GetRequirementByHashID fetches by the rename-stable identifier.
func (s *PostgresStore) GetRequirementByHashID(ctx context.Context, tenantSlug, projectSlug, hashID string) (Requirement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requirementColumns+` FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2 AND hash_id = $3
	`, tenantSlug, projectSlug, hashID)
	item, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Requirement{}, ErrNotFound
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("get requirement by hash id: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListRequirements(ctx context.Context, tenantSlug, projectSlug string, filter RequirementFilter) ([]Requirement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requirementColumns+` FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2
		  AND ($3 = '' OR document_slug = $3)
		  AND ($4 = '' OR section_id = $4)
		  AND ($5::boolean OR NOT deleted)
		ORDER BY ref ASC
	`, tenantSlug, projectSlug, filter.DocumentSlug, filter.SectionID, filter.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	items := make([]Requirement, 0)
	for rows.Next() {
		item, err := scanRequirement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan requirement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirements: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountRequirements(ctx context.Context, tenantSlug, projectSlug string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2 AND NOT deleted
	`, tenantSlug, projectSlug).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count requirements: %w", err)
	}
	return count, nil
}

// UpdateRequirement applies a typed partial update. Ref, hashId, scope and
// the deleted flag are not reachable from a patch.
func (s *PostgresStore) UpdateRequirement(ctx context.Context, tenantSlug, projectSlug, hashID string, patch RequirementPatch) (Requirement, error) {
	var tagsArg any
	if patch.Tags != nil {
		encoded, err := encodeTags(*patch.Tags)
		if err != nil {
			return Requirement{}, err
		}
		tagsArg = encoded
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE requirements SET
			body         = COALESCE($4, body),
			pattern      = COALESCE($5, pattern),
			verification = COALESCE($6, verification),
			qa_verdict   = COALESCE($7, qa_verdict),
			qa_notes     = COALESCE($8, qa_notes),
			tags         = COALESCE($9::jsonb, tags),
			path         = COALESCE($10, path),
			updated_at   = NOW()
		WHERE tenant_slug = $1 AND project_slug = $2 AND hash_id = $3
		RETURNING `+requirementColumns+`
	`, tenantSlug, projectSlug, hashID,
		patch.Text, patch.Pattern, patch.Verification, patch.QAVerdict, patch.QANotes, tagsArg, patch.Path)
	item, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Requirement{}, ErrNotFound
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("update requirement: %w", err)
	}
	return item, nil
}

// SoftDeleteRequirement marks the record deleted. The ref is kept and is
// never reassigned; counters are untouched so later creates allocate past it.
func (s *PostgresStore) SoftDeleteRequirement(ctx context.Context, tenantSlug, projectSlug, hashID string) (Requirement, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE requirements SET deleted = TRUE, updated_at = NOW()
		WHERE tenant_slug = $1 AND project_slug = $2 AND hash_id = $3
		RETURNING `+requirementColumns+`
	`, tenantSlug, projectSlug, hashID)
	item, err := scanRequirement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Requirement{}, ErrNotFound
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("soft delete requirement: %w", err)
	}
	return item, nil
}
