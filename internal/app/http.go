package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reqgraph/api/internal/search"
	"reqgraph/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/tenants" {
		var body struct {
			Slug string `json:"slug"`
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		tenant, err := s.service.EnsureTenant(r.Context(), store.Tenant{Slug: body.Slug, Name: body.Name})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, tenantPayload(tenant))
		return
	}

	// Everything else lives under /api/tenants/{tenant}/projects/{project}/...
	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "tenants" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	tenant := parts[2]

	if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "projects" {
		var body struct {
			Slug string `json:"slug"`
			Key  string `json:"key"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.EnsureProject(r.Context(), store.Project{
			TenantSlug: tenant,
			Slug:       body.Slug,
			Key:        body.Key,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, projectPayload(project))
		return
	}

	if len(parts) < 5 || parts[3] != "projects" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	project := parts[4]
	rest := parts[5:]

	switch {
	case len(rest) >= 1 && rest[0] == "documents":
		s.handleDocuments(w, r, tenant, project, rest[1:])
	case len(rest) == 2 && rest[0] == "sections" && r.Method == http.MethodPatch:
		s.handleSectionRename(w, r, tenant, project, rest[1])
	case len(rest) >= 1 && rest[0] == "requirements":
		s.handleRequirements(w, r, tenant, project, rest[1:])
	case len(rest) == 1 && rest[0] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, tenant, project)
	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		s.handleHistory(w, r, tenant, project)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, tenant, project string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Slug      string `json:"slug"`
			Name      string `json:"name"`
			ShortCode string `json:"shortCode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateDocument(r.Context(), store.Document{
			TenantSlug:  tenant,
			ProjectSlug: project,
			Slug:        body.Slug,
			Name:        body.Name,
			ShortCode:   body.ShortCode,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, documentPayload(doc))

	case len(rest) == 0 && r.Method == http.MethodGet:
		docs, err := s.service.ListDocuments(r.Context(), tenant, project)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(docs))
		for _, doc := range docs {
			payload = append(payload, documentPayload(doc))
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": payload})

	case len(rest) == 1 && r.Method == http.MethodGet:
		doc, err := s.service.GetDocument(r.Context(), tenant, project, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, documentPayload(doc))

	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			ShortCode *string `json:"shortCode"`
			Name      *string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, rewritten, err := s.service.UpdateDocument(r.Context(), tenant, project, rest[0], store.DocumentRename{
			ShortCode: body.ShortCode,
			Name:      body.Name,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := documentPayload(doc)
		payload["rewrittenRefs"] = rewritten
		writeJSON(w, http.StatusOK, payload)

	case len(rest) == 2 && rest[1] == "sections" && r.Method == http.MethodPost:
		var body struct {
			Name      string `json:"name"`
			ShortCode string `json:"shortCode"`
			SortOrder int    `json:"sortOrder"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		section, err := s.service.CreateSection(r.Context(), store.DocumentSection{
			TenantSlug:   tenant,
			ProjectSlug:  project,
			DocumentSlug: rest[0],
			Name:         body.Name,
			ShortCode:    body.ShortCode,
			SortOrder:    body.SortOrder,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, sectionPayload(section))

	case len(rest) == 2 && rest[1] == "sections" && r.Method == http.MethodGet:
		sections, err := s.service.ListSections(r.Context(), tenant, project, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(sections))
		for _, section := range sections {
			payload = append(payload, sectionPayload(section))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sections": payload})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSectionRename(w http.ResponseWriter, r *http.Request, tenant, project, sectionID string) {
	var body struct {
		ShortCode *string `json:"shortCode"`
		Name      *string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	section, rewritten, err := s.service.UpdateSection(r.Context(), tenant, project, sectionID, store.SectionRename{
		ShortCode: body.ShortCode,
		Name:      body.Name,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	payload := sectionPayload(section)
	payload["rewrittenRefs"] = rewritten
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRequirements(w http.ResponseWriter, r *http.Request, tenant, project string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Document     string   `json:"document"`
			SectionID    string   `json:"sectionId"`
			Text         string   `json:"text"`
			Pattern      string   `json:"pattern"`
			Verification string   `json:"verification"`
			QAVerdict    string   `json:"qaVerdict"`
			QANotes      string   `json:"qaNotes"`
			Tags         []string `json:"tags"`
			Path         string   `json:"path"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateRequirement(r.Context(), store.CreateRequirementInput{
			TenantSlug:   tenant,
			ProjectSlug:  project,
			DocumentSlug: body.Document,
			SectionID:    body.SectionID,
			Text:         body.Text,
			Pattern:      body.Pattern,
			Verification: body.Verification,
			QAVerdict:    body.QAVerdict,
			QANotes:      body.QANotes,
			Tags:         body.Tags,
			Path:         body.Path,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, requirementPayload(item))

	case len(rest) == 0 && r.Method == http.MethodGet:
		filter := store.RequirementFilter{
			DocumentSlug:   strings.TrimSpace(r.URL.Query().Get("document")),
			SectionID:      strings.TrimSpace(r.URL.Query().Get("sectionId")),
			IncludeDeleted: r.URL.Query().Get("includeDeleted") == "true",
		}
		items, err := s.service.ListRequirements(r.Context(), tenant, project, filter)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		payload := make([]map[string]any, 0, len(items))
		for _, item := range items {
			payload = append(payload, requirementPayload(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"requirements": payload})

	case len(rest) == 1 && rest[0] == "count" && r.Method == http.MethodGet:
		count, err := s.service.CountRequirements(r.Context(), tenant, project)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": count})

	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetRequirement(r.Context(), tenant, project, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, requirementPayload(item))

	case len(rest) == 1 && r.Method == http.MethodPatch:
		var body struct {
			Text         *string   `json:"text"`
			Pattern      *string   `json:"pattern"`
			Verification *string   `json:"verification"`
			QAVerdict    *string   `json:"qaVerdict"`
			QANotes      *string   `json:"qaNotes"`
			Tags         *[]string `json:"tags"`
			Path         *string   `json:"path"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.UpdateRequirement(r.Context(), tenant, project, rest[0], store.RequirementPatch{
			Text:         body.Text,
			Pattern:      body.Pattern,
			Verification: body.Verification,
			QAVerdict:    body.QAVerdict,
			QANotes:      body.QANotes,
			Tags:         body.Tags,
			Path:         body.Path,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, requirementPayload(item))

	case len(rest) == 1 && r.Method == http.MethodDelete:
		item, err := s.service.SoftDeleteRequirement(r.Context(), tenant, project, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, requirementPayload(item))

	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodPost:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		key, err := s.service.UploadAttachment(
			r.Context(), tenant, project, rest[0], name,
			r.Body, r.ContentLength, r.Header.Get("Content-Type"),
		)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"key": key})

	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodGet:
		attachments, err := s.service.ListAttachments(r.Context(), tenant, project, rest[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})

	case len(rest) == 3 && rest[1] == "attachments" && r.Method == http.MethodGet:
		reader, err := s.service.OpenAttachment(r.Context(), tenant, project, rest[0], rest[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer reader.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, reader)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, tenant, project string) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	response := s.service.SearchRequirements(r.Context(), search.Query{
		Tenant:  tenant,
		Project: project,
		Text:    q,
		Limit:   limit,
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, tenant, project string) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	entries, err := s.service.MirrorHistory(tenant, project, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// --- payloads ---

func tenantPayload(tenant store.Tenant) map[string]any {
	return map[string]any{
		"slug":      tenant.Slug,
		"name":      tenant.Name,
		"createdAt": tenant.CreatedAt,
	}
}

func projectPayload(project store.Project) map[string]any {
	return map[string]any{
		"tenant":    project.TenantSlug,
		"slug":      project.Slug,
		"key":       project.Key,
		"createdAt": project.CreatedAt,
	}
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"tenant":    doc.TenantSlug,
		"project":   doc.ProjectSlug,
		"slug":      doc.Slug,
		"name":      doc.Name,
		"shortCode": doc.ShortCode,
		"createdAt": doc.CreatedAt,
		"updatedAt": doc.UpdatedAt,
	}
}

func sectionPayload(section store.DocumentSection) map[string]any {
	return map[string]any{
		"id":        section.ID,
		"tenant":    section.TenantSlug,
		"project":   section.ProjectSlug,
		"document":  section.DocumentSlug,
		"name":      section.Name,
		"shortCode": section.ShortCode,
		"sortOrder": section.SortOrder,
		"createdAt": section.CreatedAt,
		"updatedAt": section.UpdatedAt,
	}
}

func requirementPayload(item store.Requirement) map[string]any {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"hashId":       item.HashID,
		"id":           item.ID,
		"tenant":       item.TenantSlug,
		"project":      item.ProjectSlug,
		"document":     item.DocumentSlug,
		"sectionId":    item.SectionID,
		"ref":          item.Ref,
		"text":         item.Text,
		"pattern":      item.Pattern,
		"verification": item.Verification,
		"qaVerdict":    item.QAVerdict,
		"qaNotes":      item.QANotes,
		"tags":         tags,
		"path":         item.Path,
		"deleted":      item.Deleted,
		"createdAt":    item.CreatedAt,
		"updatedAt":    item.UpdatedAt,
	}
}

// --- middleware and helpers ---

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrScopeNotFound) {
		return http.StatusNotFound, "SCOPE_NOT_FOUND", "Document or section not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
