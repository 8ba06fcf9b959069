package httpapi

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/backend"
	"github.com/dmitrijs2005/cloudstore/internal/server/keys"
	"github.com/dmitrijs2005/cloudstore/internal/server/models"
	"github.com/dmitrijs2005/cloudstore/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxUploadSize   = 64 << 20
	maxMemoryUpload = 32 << 20
)

// LinkVerifier validates local blob link tokens.
type LinkVerifier interface {
	Verify(token string) (string, error)
}

type Handler struct {
	files    *services.FileService
	broker   *services.AccessBroker
	blobs    backend.Backend
	verifier LinkVerifier
	logger   logging.Logger

	jwtSecret []byte
}

// NewHandler wires the endpoints. verifier is nil unless blobs are stored
// locally, in which case /blob serves them.
func NewHandler(fs *services.FileService, broker *services.AccessBroker, blobs backend.Backend, verifier LinkVerifier, secretKey string, l logging.Logger) *Handler {
	return &Handler{
		files:     fs,
		broker:    broker,
		blobs:     blobs,
		verifier:  verifier,
		logger:    l.With("module", "http_handler"),
		jwtSecret: []byte(secretKey),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.observe)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get(common.BlobPath, h.blob)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get(common.RetrievePath, h.retrieve)
		r.Get(common.SharePath, h.share)
		r.Get("/files/{id}/content", h.content)
		r.Get("/files/{id}/versions", h.versions)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/files", h.upload)
			r.Post("/files/{id}/sharing-link", h.sharingLink)
			r.Delete("/files/{id}/associations", h.detach)
			r.Delete("/files/{id}", h.deleteFile)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	u, err := h.broker.GetPresignedURL(r.Context(), r.URL.Query().Get("key"), userFrom(r.Context()))
	if err != nil {
		h.writeKeyError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	u, err := h.broker.GetSharingURL(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.writeKeyError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (h *Handler) blob(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeText(w, http.StatusNotFound, keyNotFound)
		return
	}
	key, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeText(w, http.StatusForbidden, err.Error())
		return
	}
	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		h.writeKeyError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", backend.DetectContentType(body, key))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		writeText(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	req := services.WriteRequest{
		FileName:  r.FormValue("file_name"),
		IsPrivate: formBool(r.FormValue("is_private")),
		IsFolder:  formBool(r.FormValue("folder")),
		Owner: models.Owner{
			Doctype: r.FormValue("doctype"),
			Name:    r.FormValue("docname"),
		},
		ActingUser: userFrom(r.Context()),
	}

	if fileURL := r.FormValue("file_url"); fileURL != "" && !req.IsFolder {
		if req.Owner.Doctype == "" || req.Owner.Name == "" {
			writeText(w, http.StatusBadRequest, "doctype and docname are required")
			return
		}
		f, err := h.files.AttachExisting(r.Context(), fileURL, req.Owner, req.ActingUser)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toFileResponse(f))
		return
	}

	if !req.IsFolder {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeText(w, http.StatusBadRequest, "missing file")
			return
		}
		defer file.Close()

		body, err := io.ReadAll(file)
		if err != nil {
			writeText(w, http.StatusBadRequest, "read upload")
			return
		}
		if req.FileName == "" {
			req.FileName = header.Filename
		}
		if ct := header.Header.Get("Content-Type"); ct != "application/octet-stream" {
			req.ContentType = ct
		}
		req.Content = body
	}

	f, err := h.files.Write(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(f))
}

func (h *Handler) sharingLink(w http.ResponseWriter, r *http.Request) {
	u, err := h.broker.SharingLink(r.Context(), chi.URLParam(r, "id"), formBool(r.URL.Query().Get("reset")), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (h *Handler) detach(w http.ResponseWriter, r *http.Request) {
	owner := models.Owner{Doctype: r.URL.Query().Get("dt"), Name: r.URL.Query().Get("dn")}
	if owner.Doctype == "" || owner.Name == "" {
		writeText(w, http.StatusBadRequest, "dt and dn are required")
		return
	}

	deleted, err := h.files.RemoveAttachment(r.Context(), chi.URLParam(r, "id"), owner, userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.files.Delete(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) content(w http.ResponseWriter, r *http.Request) {
	f, body, err := h.files.Content(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

type versionResponse struct {
	VersionID   string    `json:"version_id"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	vs, err := h.files.Versions(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]versionResponse, 0, len(vs))
	for _, v := range vs {
		resp = append(resp, versionResponse{VersionID: v.VersionID, ContentHash: v.ContentHash, CreatedAt: v.CreatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

func formBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

type associationResponse struct {
	LinkDoctype string `json:"link_doctype"`
	LinkName    string `json:"link_name"`
	Idx         int    `json:"idx"`
}

type fileResponse struct {
	ID                string                `json:"id"`
	FileName          string                `json:"file_name"`
	FileURL           string                `json:"file_url,omitempty"`
	ContentHash       string                `json:"content_hash,omitempty"`
	ContentType       string                `json:"content_type,omitempty"`
	FileSize          int64                 `json:"file_size"`
	IsPrivate         bool                  `json:"is_private"`
	IsFolder          bool                  `json:"is_folder"`
	Owner             string                `json:"owner"`
	AttachedToDoctype string                `json:"attached_to_doctype,omitempty"`
	AttachedToName    string                `json:"attached_to_name,omitempty"`
	Associations      []associationResponse `json:"associations"`
}

func toFileResponse(f *models.File) fileResponse {
	resp := fileResponse{
		ID:                f.ID,
		FileName:          f.FileName,
		ContentHash:       f.ContentHash,
		ContentType:       f.ContentType,
		FileSize:          f.Size,
		IsPrivate:         f.IsPrivate,
		IsFolder:          f.IsFolder,
		Owner:             f.Owner,
		AttachedToDoctype: f.AttachedToDoctype,
		AttachedToName:    f.AttachedToName,
		Associations:      make([]associationResponse, 0, len(f.Associations)),
	}
	if f.StorageKey != "" {
		resp.FileURL = keys.RetrieveURL(f.StorageKey)
	}
	for _, a := range f.Associations {
		resp.Associations = append(resp.Associations, associationResponse{
			LinkDoctype: a.LinkDoctype,
			LinkName:    a.LinkName,
			Idx:         a.Idx,
		})
	}
	return resp
}
