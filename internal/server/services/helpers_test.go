package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/cloudstore/internal/common"
	"github.com/dmitrijs2005/cloudstore/internal/logging"
	"github.com/dmitrijs2005/cloudstore/internal/server/config"
	"github.com/dmitrijs2005/cloudstore/internal/server/permissions"
	"github.com/dmitrijs2005/cloudstore/internal/server/repositories/files"
)

type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
	// versioned makes Put return a version id like a versioned bucket.
	versioned bool
	deletes   []string
	presigns  []presignCall
}

type presignCall struct {
	key     string
	expires time.Duration
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string][]byte{}}
}

func (b *memBackend) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.putErr != nil {
		return "", b.putErr
	}
	b.objects[key] = append([]byte(nil), body...)
	if b.versioned {
		return fmt.Sprintf("v%d", b.puts), nil
	}
	return "", nil
}

func (b *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return body, nil
}

func (b *memBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return common.ErrorNotFound
	}
	delete(b.objects, key)
	b.deletes = append(b.deletes, key)
	return nil
}

func (b *memBackend) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presigns = append(b.presigns, presignCall{key: key, expires: expires})
	return "https://signed.example/" + key, nil
}

func (b *memBackend) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *memBackend) presignCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.presigns)
}

// hostStub grants every permission type on a document per user@doctype/docname
// and marks documents submitted.
type hostStub struct {
	readable  map[string]bool
	submitted map[string]bool
	roles     map[string][]string
}

func (h *hostStub) DocumentPermission(ctx context.Context, user, doctype, docname, ptype string) (bool, error) {
	return h.readable[user+"@"+doctype+"/"+docname], nil
}

func (h *hostStub) FilePermission(ctx context.Context, user, fileID, ptype string) (bool, error) {
	return false, nil
}

func (h *hostStub) DocumentSubmitted(ctx context.Context, doctype, docname string) (bool, error) {
	return h.submitted[doctype+"/"+docname], nil
}

func (h *hostStub) UserRoles(ctx context.Context, user string) ([]string, error) {
	return h.roles[user], nil
}

type fixture struct {
	cfg     *config.Config
	store   *files.MemoryStore
	backend *memBackend
	host    *hostStub
	files   *FileService
	broker  *AccessBroker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.S3Folder = "folder"
	cfg.PublicBaseURL = "https://erp.example.com/"

	store := files.NewMemoryStore()
	b := newMemBackend()
	host := &hostStub{readable: map[string]bool{}, submitted: map[string]bool{}, roles: map[string][]string{}}
	checker := permissions.NewChecker(host)

	return &fixture{
		cfg:     cfg,
		store:   store,
		backend: b,
		host:    host,
		files:   NewFileService(store, b, checker, cfg, logging.Nop{}),
		broker:  NewAccessBroker(store, b, checker, cfg, logging.Nop{}),
	}
}
