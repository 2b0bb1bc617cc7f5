package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reqgraph/api/internal/refcode"
)

// RenameDocument updates a document's naming attributes and rewrites the
// ref of every requirement under it (directly or via a section) in the same
// transaction. Suffixes are preserved verbatim; hash_id and id are never
// touched. The rewrite runs on every call, whether or not the values
// actually changed — the outcome is idempotent.
func (s *PostgresStore) RenameDocument(ctx context.Context, tenantSlug, projectSlug, slug string, rename DocumentRename) (Document, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, 0, fmt.Errorf("begin rename document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc Document
	err = tx.QueryRowContext(ctx, `
		UPDATE documents SET
			short_code = COALESCE($4, short_code),
			name       = COALESCE($5, name),
			updated_at = NOW()
		WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
		RETURNING tenant_slug, project_slug, slug, name, short_code, requirement_counter, created_at, updated_at
	`, tenantSlug, projectSlug, slug, rename.ShortCode, rename.Name).Scan(
		&doc.TenantSlug, &doc.ProjectSlug, &doc.Slug, &doc.Name, &doc.ShortCode,
		&doc.RequirementCounter, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, 0, ErrNotFound
	}
	if err != nil {
		return Document{}, 0, fmt.Errorf("rename document: %w", err)
	}

	docCode := refcode.DocumentCode(refcode.Document{Slug: doc.Slug, ShortCode: doc.ShortCode})

	rewritten, err := rewriteRefs(ctx, tx, tenantSlug, projectSlug, doc.Slug, "", docCode)
	if err != nil {
		return Document{}, 0, err
	}

	sections, err := documentSectionCodes(ctx, tx, tenantSlug, projectSlug, doc.Slug)
	if err != nil {
		return Document{}, 0, err
	}
	for _, section := range sections {
		n, err := rewriteRefs(ctx, tx, tenantSlug, projectSlug, doc.Slug, section.id, docCode+"-"+section.code)
		if err != nil {
			return Document{}, 0, err
		}
		rewritten += n
	}

	if err := tx.Commit(); err != nil {
		return Document{}, 0, fmt.Errorf("commit rename document: %w", err)
	}
	return doc, rewritten, nil
}

// RenameSection updates a section's naming attributes and rewrites the refs
// of the requirements attached to it, in one transaction.
func (s *PostgresStore) RenameSection(ctx context.Context, tenantSlug, projectSlug, sectionID string, rename SectionRename) (DocumentSection, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentSection{}, 0, fmt.Errorf("begin rename section: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var section DocumentSection
	err = tx.QueryRowContext(ctx, `
		UPDATE document_sections SET
			short_code = COALESCE($4, short_code),
			name       = COALESCE($5, name),
			updated_at = NOW()
		WHERE tenant_slug = $1 AND project_slug = $2 AND id = $3
		RETURNING id, tenant_slug, project_slug, document_slug, name, short_code, sort_order, created_at, updated_at
	`, tenantSlug, projectSlug, sectionID, rename.ShortCode, rename.Name).Scan(
		&section.ID, &section.TenantSlug, &section.ProjectSlug, &section.DocumentSlug,
		&section.Name, &section.ShortCode, &section.SortOrder, &section.CreatedAt, &section.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentSection{}, 0, ErrNotFound
	}
	if err != nil {
		return DocumentSection{}, 0, fmt.Errorf("rename section: %w", err)
	}

	var docSlug, docShortCode string
	err = tx.QueryRowContext(ctx, `
		SELECT slug, short_code FROM documents
		WHERE tenant_slug = $1 AND project_slug = $2 AND slug = $3
	`, tenantSlug, projectSlug, section.DocumentSlug).Scan(&docSlug, &docShortCode)
	if err != nil {
		return DocumentSection{}, 0, fmt.Errorf("load section document: %w", err)
	}

	prefix := refcode.DocumentCode(refcode.Document{Slug: docSlug, ShortCode: docShortCode}) +
		"-" + refcode.SectionCode(refcode.Section{Name: section.Name, ShortCode: section.ShortCode})

	rewritten, err := rewriteRefs(ctx, tx, tenantSlug, projectSlug, section.DocumentSlug, section.ID, prefix)
	if err != nil {
		return DocumentSection{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return DocumentSection{}, 0, fmt.Errorf("commit rename section: %w", err)
	}
	return section, rewritten, nil
}

// rewriteRefs replaces the non-numeric portion of every ref in the given
// scope with newPrefix, keeping each suffix text verbatim. Refs without a
// recognizable numeric suffix are left alone.
func rewriteRefs(ctx context.Context, tx *sql.Tx, tenantSlug, projectSlug, documentSlug, sectionID, newPrefix string) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT hash_id, ref FROM requirements
		WHERE tenant_slug = $1 AND project_slug = $2
		  AND document_slug = $3 AND section_id = $4
		FOR UPDATE
	`, tenantSlug, projectSlug, documentSlug, sectionID)
	if err != nil {
		return 0, fmt.Errorf("select refs for rewrite: %w", err)
	}

	type target struct {
		hashID string
		newRef string
	}
	var targets []target
	for rows.Next() {
		var hashID, ref string
		if err := rows.Scan(&hashID, &ref); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan ref for rewrite: %w", err)
		}
		newRef, ok := refcode.Rewrite(ref, newPrefix)
		if !ok {
			continue
		}
		targets = append(targets, target{hashID: hashID, newRef: newRef})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate refs for rewrite: %w", err)
	}
	rows.Close()

	for _, t := range targets {
		if _, err := tx.ExecContext(ctx, `
			UPDATE requirements SET ref = $2, updated_at = NOW()
			WHERE hash_id = $1
		`, t.hashID, t.newRef); err != nil {
			return 0, fmt.Errorf("rewrite ref %s: %w", t.hashID, err)
		}
	}
	return len(targets), nil
}

type sectionCode struct {
	id   string
	code string
}

func documentSectionCodes(ctx context.Context, tx *sql.Tx, tenantSlug, projectSlug, documentSlug string) ([]sectionCode, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, short_code FROM document_sections
		WHERE tenant_slug = $1 AND project_slug = $2 AND document_slug = $3
	`, tenantSlug, projectSlug, documentSlug)
	if err != nil {
		return nil, fmt.Errorf("list document sections: %w", err)
	}
	defer rows.Close()

	var codes []sectionCode
	for rows.Next() {
		var id, name, shortCode string
		if err := rows.Scan(&id, &name, &shortCode); err != nil {
			return nil, fmt.Errorf("scan document section: %w", err)
		}
		codes = append(codes, sectionCode{
			id:   id,
			code: refcode.SectionCode(refcode.Section{Name: name, ShortCode: shortCode}),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document sections: %w", err)
	}
	return codes, nil
}
