package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/server/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type hostRequest struct {
	User    string `json:"user,omitempty"`
	Doctype string `json:"doctype,omitempty"`
	Docname string `json:"docname,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Ptype   string `json:"ptype,omitempty"`
}

type hostResponse struct {
	Allowed   bool     `json:"allowed"`
	Submitted bool     `json:"submitted"`
	Roles     []string `json:"roles,omitempty"`
}

// HTTPHost asks the host system over JSON/HTTP and caches answers for a
// short TTL. Endpoints, relative to the base URL:
//
//	POST /permissions/document  {user, doctype, docname, ptype} -> {allowed}
//	POST /permissions/file      {user, file_id, ptype}          -> {allowed}
//	POST /documents/status      {doctype, docname}              -> {submitted}
//	POST /users/roles           {user}                          -> {roles}
type HTTPHost struct {
	baseURL string
	client  *http.Client
	cache   *expirable.LRU[string, hostResponse]
}

func NewHTTPHost(baseURL string, client *http.Client, cacheSize int, ttl time.Duration) *HTTPHost {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &HTTPHost{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		cache:   expirable.NewLRU[string, hostResponse](cacheSize, nil, ttl),
	}
}

func (h *HTTPHost) DocumentPermission(ctx context.Context, user, doctype, docname, ptype string) (bool, error) {
	resp, err := h.ask(ctx, "/permissions/document", hostRequest{User: user, Doctype: doctype, Docname: docname, Ptype: ptype})
	return resp.Allowed, err
}

func (h *HTTPHost) FilePermission(ctx context.Context, user, fileID, ptype string) (bool, error) {
	resp, err := h.ask(ctx, "/permissions/file", hostRequest{User: user, FileID: fileID, Ptype: ptype})
	return resp.Allowed, err
}

func (h *HTTPHost) DocumentSubmitted(ctx context.Context, doctype, docname string) (bool, error) {
	resp, err := h.ask(ctx, "/documents/status", hostRequest{Doctype: doctype, Docname: docname})
	return resp.Submitted, err
}

func (h *HTTPHost) UserRoles(ctx context.Context, user string) ([]string, error) {
	resp, err := h.ask(ctx, "/users/roles", hostRequest{User: user})
	return resp.Roles, err
}

func (h *HTTPHost) ask(ctx context.Context, path string, req hostRequest) (hostResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return hostResponse{}, err
	}

	cacheKey := path + "|" + string(body)
	if cached, ok := h.cache.Get(cacheKey); ok {
		metrics.PermissionCacheHits.Inc()
		return cached, nil
	}
	metrics.PermissionCacheMisses.Inc()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return hostResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return hostResponse{}, fmt.Errorf("permission host %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return hostResponse{}, fmt.Errorf("permission host %s: unexpected status %d", path, httpResp.StatusCode)
	}

	var resp hostResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return hostResponse{}, fmt.Errorf("permission host %s: decode: %w", path, err)
	}

	h.cache.Add(cacheKey, resp)
	return resp, nil
}
