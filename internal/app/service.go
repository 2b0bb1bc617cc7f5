package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"reqgraph/api/internal/blob"
	"reqgraph/api/internal/config"
	"reqgraph/api/internal/search"
	"reqgraph/api/internal/store"
	"reqgraph/api/internal/util"
)

type dataStore interface {
	EnsureTenant(context.Context, store.Tenant) (store.Tenant, error)
	EnsureProject(context.Context, store.Project) (store.Project, error)
	CreateDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(context.Context, string, string, string) (store.Document, error)
	ListDocuments(context.Context, string, string) ([]store.Document, error)
	CreateSection(context.Context, store.DocumentSection) (store.DocumentSection, error)
	ListSections(context.Context, string, string, string) ([]store.DocumentSection, error)
	RenameDocument(context.Context, string, string, string, store.DocumentRename) (store.Document, int, error)
	RenameSection(context.Context, string, string, string, store.SectionRename) (store.DocumentSection, int, error)
	CreateRequirement(context.Context, store.CreateRequirementInput) (store.Requirement, error)
	GetRequirement(context.Context, string, string, string) (store.Requirement, error)
	GetRequirementByHashID(context.Context, string, string, string) (store.Requirement, error)
	ListRequirements(context.Context, string, string, store.RequirementFilter) ([]store.Requirement, error)
	CountRequirements(context.Context, string, string) (int, error)
	UpdateRequirement(context.Context, string, string, string, store.RequirementPatch) (store.Requirement, error)
	SoftDeleteRequirement(context.Context, string, string, string) (store.Requirement, error)
	Ping(context.Context) error
}

type listCache interface {
	GetRequirementList(context.Context, string, string) ([]store.Requirement, bool)
	SetRequirementList(context.Context, string, string, []store.Requirement) error
	GetRequirementCount(context.Context, string, string) (int, bool)
	SetRequirementCount(context.Context, string, string, int) error
	GetDocumentList(context.Context, string, string) ([]store.Document, bool)
	SetDocumentList(context.Context, string, string, []store.Document) error
	InvalidateRequirements(context.Context, string, string) error
	InvalidateDocuments(context.Context, string, string) error
}

type mirrorWriter interface {
	Write(store.Requirement) error
	History(tenantSlug, projectSlug string, limit int) ([]string, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexRequirement(store.Requirement)
	DeleteRequirement(string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	cache  listCache
	mirror mirrorWriter
	search searchIndex
	blob   *blob.Client
}

func New(cfg config.Config, st dataStore) *Service {
	return &Service{cfg: cfg, store: st}
}

// WithCache attaches the redis list cache; listings work uncached without it.
func (s *Service) WithCache(cache listCache) *Service {
	s.cache = cache
	return s
}

// WithMirror attaches the markdown mirror writer.
func (s *Service) WithMirror(mirror mirrorWriter) *Service {
	s.mirror = mirror
	return s
}

// WithSearch attaches the search facade.
func (s *Service) WithSearch(index searchIndex) *Service {
	s.search = index
	return s
}

// WithBlob attaches the attachment store.
func (s *Service) WithBlob(client *blob.Client) *Service {
	s.blob = client
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- tenants / projects / documents / sections ---

func (s *Service) EnsureTenant(ctx context.Context, tenant store.Tenant) (store.Tenant, error) {
	if tenant.Slug == "" {
		return store.Tenant{}, validationError("tenant slug is required")
	}
	return s.store.EnsureTenant(ctx, tenant)
}

func (s *Service) EnsureProject(ctx context.Context, project store.Project) (store.Project, error) {
	if project.TenantSlug == "" || project.Slug == "" {
		return store.Project{}, validationError("tenant and project slugs are required")
	}
	return s.store.EnsureProject(ctx, project)
}

func (s *Service) CreateDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	if doc.Slug == "" {
		return store.Document{}, validationError("document slug is required")
	}
	item, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return store.Document{}, err
	}
	s.invalidateDocuments(ctx, doc.TenantSlug, doc.ProjectSlug)
	return item, nil
}

func (s *Service) GetDocument(ctx context.Context, tenant, project, slug string) (store.Document, error) {
	item, err := s.store.GetDocument(ctx, tenant, project, slug)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, notFoundError("NOT_FOUND", "Document not found")
	}
	return item, err
}

func (s *Service) ListDocuments(ctx context.Context, tenant, project string) ([]store.Document, error) {
	if s.cache != nil {
		if items, ok := s.cache.GetDocumentList(ctx, tenant, project); ok {
			return items, nil
		}
	}
	items, err := s.store.ListDocuments(ctx, tenant, project)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetDocumentList(ctx, tenant, project, items); err != nil {
			log.Printf("cache: set document list %s/%s: %v", tenant, project, err)
		}
	}
	return items, nil
}

func (s *Service) CreateSection(ctx context.Context, section store.DocumentSection) (store.DocumentSection, error) {
	if section.DocumentSlug == "" {
		return store.DocumentSection{}, validationError("document slug is required")
	}
	if section.ID == "" {
		section.ID = util.NewID("sec")
	}
	item, err := s.store.CreateSection(ctx, section)
	if errors.Is(err, store.ErrScopeNotFound) {
		return store.DocumentSection{}, notFoundError("SCOPE_NOT_FOUND", "Document not found")
	}
	return item, err
}

func (s *Service) ListSections(ctx context.Context, tenant, project, document string) ([]store.DocumentSection, error) {
	return s.store.ListSections(ctx, tenant, project, document)
}

// UpdateDocument applies a rename. The ref rewrite for dependent
// requirements happens inside the store transaction; this operation then
// invalidates the caches the rewrite made stale.
func (s *Service) UpdateDocument(ctx context.Context, tenant, project, slug string, rename store.DocumentRename) (store.Document, int, error) {
	if rename.ShortCode == nil && rename.Name == nil {
		return store.Document{}, 0, validationError("no fields to update")
	}
	doc, rewritten, err := s.store.RenameDocument(ctx, tenant, project, slug, rename)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, 0, notFoundError("NOT_FOUND", "Document not found")
	}
	if err != nil {
		return store.Document{}, 0, err
	}
	s.invalidateRequirements(ctx, tenant, project)
	s.invalidateDocuments(ctx, tenant, project)
	return doc, rewritten, nil
}

// UpdateSection applies a section rename, with the same cascade semantics
// as UpdateDocument.
func (s *Service) UpdateSection(ctx context.Context, tenant, project, sectionID string, rename store.SectionRename) (store.DocumentSection, int, error) {
	if rename.ShortCode == nil && rename.Name == nil {
		return store.DocumentSection{}, 0, validationError("no fields to update")
	}
	section, rewritten, err := s.store.RenameSection(ctx, tenant, project, sectionID, rename)
	if errors.Is(err, store.ErrNotFound) {
		return store.DocumentSection{}, 0, notFoundError("NOT_FOUND", "Section not found")
	}
	if err != nil {
		return store.DocumentSection{}, 0, err
	}
	s.invalidateRequirements(ctx, tenant, project)
	s.invalidateDocuments(ctx, tenant, project)
	return section, rewritten, nil
}

// --- requirements ---

func (s *Service) CreateRequirement(ctx context.Context, input store.CreateRequirementInput) (store.Requirement, error) {
	if input.TenantSlug == "" || input.ProjectSlug == "" {
		return store.Requirement{}, validationError("tenant and project slugs are required")
	}
	item, err := s.store.CreateRequirement(ctx, input)
	if errors.Is(err, store.ErrScopeNotFound) {
		return store.Requirement{}, notFoundError("SCOPE_NOT_FOUND", "Document or section not found")
	}
	if err != nil {
		return store.Requirement{}, err
	}
	s.invalidateRequirements(ctx, item.TenantSlug, item.ProjectSlug)
	s.mirrorWrite(item)
	if s.search != nil {
		s.search.IndexRequirement(item)
	}
	return item, nil
}

// GetRequirement fetches by ref, deleted or not; direct reads serve audit
// and history access.
func (s *Service) GetRequirement(ctx context.Context, tenant, project, ref string) (store.Requirement, error) {
	item, err := s.store.GetRequirement(ctx, tenant, project, ref)
	if errors.Is(err, store.ErrNotFound) {
		return store.Requirement{}, notFoundError("NOT_FOUND", "Requirement not found")
	}
	return item, err
}

func (s *Service) ListRequirements(ctx context.Context, tenant, project string, filter store.RequirementFilter) ([]store.Requirement, error) {
	cacheable := filter == store.RequirementFilter{}
	if cacheable && s.cache != nil {
		if items, ok := s.cache.GetRequirementList(ctx, tenant, project); ok {
			return items, nil
		}
	}
	items, err := s.store.ListRequirements(ctx, tenant, project, filter)
	if err != nil {
		return nil, err
	}
	if cacheable && s.cache != nil {
		if err := s.cache.SetRequirementList(ctx, tenant, project, items); err != nil {
			log.Printf("cache: set requirement list %s/%s: %v", tenant, project, err)
		}
	}
	return items, nil
}

func (s *Service) CountRequirements(ctx context.Context, tenant, project string) (int, error) {
	if s.cache != nil {
		if count, ok := s.cache.GetRequirementCount(ctx, tenant, project); ok {
			return count, nil
		}
	}
	count, err := s.store.CountRequirements(ctx, tenant, project)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.SetRequirementCount(ctx, tenant, project, count); err != nil {
			log.Printf("cache: set requirement count %s/%s: %v", tenant, project, err)
		}
	}
	return count, nil
}

func (s *Service) UpdateRequirement(ctx context.Context, tenant, project, hashID string, patch store.RequirementPatch) (store.Requirement, error) {
	if patch.Empty() {
		return store.Requirement{}, validationError("no fields to update")
	}
	item, err := s.store.UpdateRequirement(ctx, tenant, project, hashID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return store.Requirement{}, notFoundError("NOT_FOUND", "Requirement not found")
	}
	if err != nil {
		return store.Requirement{}, err
	}
	s.invalidateRequirements(ctx, tenant, project)
	s.mirrorWrite(item)
	if s.search != nil {
		s.search.IndexRequirement(item)
	}
	return item, nil
}

func (s *Service) SoftDeleteRequirement(ctx context.Context, tenant, project, hashID string) (store.Requirement, error) {
	item, err := s.store.SoftDeleteRequirement(ctx, tenant, project, hashID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Requirement{}, notFoundError("NOT_FOUND", "Requirement not found")
	}
	if err != nil {
		return store.Requirement{}, err
	}
	s.invalidateRequirements(ctx, tenant, project)
	s.invalidateDocuments(ctx, tenant, project)
	s.mirrorWrite(item)
	if s.search != nil {
		s.search.DeleteRequirement(item.HashID)
	}
	return item, nil
}

func (s *Service) SearchRequirements(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// MirrorHistory returns recent mirror commit messages for one project.
func (s *Service) MirrorHistory(tenant, project string, limit int) ([]string, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Mirror not configured", nil)
	}
	return s.mirror.History(tenant, project, limit)
}

// --- attachments ---

func (s *Service) UploadAttachment(ctx context.Context, tenant, project, hashID, name string, r io.Reader, size int64, contentType string) (string, error) {
	if s.blob == nil {
		return "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	if name == "" {
		return "", validationError("attachment name is required")
	}
	if _, err := s.store.GetRequirementByHashID(ctx, tenant, project, hashID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", notFoundError("NOT_FOUND", "Requirement not found")
		}
		return "", err
	}
	return s.blob.Upload(ctx, tenant, project, hashID, name, r, size, contentType)
}

func (s *Service) ListAttachments(ctx context.Context, tenant, project, hashID string) ([]blob.Attachment, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.blob.List(ctx, tenant, project, hashID)
}

func (s *Service) OpenAttachment(ctx context.Context, tenant, project, hashID, name string) (io.ReadCloser, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	return s.blob.Open(ctx, tenant, project, hashID, name)
}

// --- best-effort secondary effects ---

func (s *Service) invalidateRequirements(ctx context.Context, tenant, project string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRequirements(ctx, tenant, project); err != nil {
		log.Printf("cache: invalidate requirements %s/%s: %v", tenant, project, err)
	}
}

func (s *Service) invalidateDocuments(ctx context.Context, tenant, project string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateDocuments(ctx, tenant, project); err != nil {
		log.Printf("cache: invalidate documents %s/%s: %v", tenant, project, err)
	}
}

func (s *Service) mirrorWrite(item store.Requirement) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Write(item); err != nil {
		log.Printf("mirror: write %s: %v", item.Ref, err)
	}
}
