package api

import (
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const megabyte = 1024 * 1024

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var allowedDocumentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain": true,
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
}

type Limits struct {
	MaxFiles    int
	MaxFileSize int64
	MaxWidth    int
	MaxHeight   int
	Quality     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFiles:    5,
		MaxFileSize: 10 * megabyte,
		MaxWidth:    1920,
		MaxHeight:   1080,
		Quality:     80,
	}
}

// File is a file picked or dropped by the user, before validation.
type File struct {
	Name     string
	Mimetype string
	Data     []byte
}

// PendingAttachment is a validated file waiting to be uploaded. Images carry a
// preview file on disk that must be released once the attachment is removed or
// uploaded.
type PendingAttachment struct {
	Id        string `json:"id"`
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	Size      int64  `json:"size"`
	Optimized bool   `json:"optimized"`
	Data      []byte `json:"-"`

	mu      sync.Mutex
	preview string
}

func (p *PendingAttachment) Type() string {
	if isImage(p.Mimetype) {
		return AttachmentTypeImage
	}
	return AttachmentTypeDocument
}

// Preview returns the preview path, empty for documents or once released.
func (p *PendingAttachment) Preview() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preview
}

// Release frees the preview handle. Calling it more than once is harmless.
func (p *PendingAttachment) Release() {
	p.mu.Lock()
	path := p.preview
	p.preview = ""
	p.mu.Unlock()

	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Unable to release preview %s: %v", path, err)
	}
}

type Preparer struct {
	limits     Limits
	previewDir string
}

func NewPreparer(limits Limits, previewDir string) *Preparer {
	if previewDir == "" {
		previewDir = os.TempDir()
	}
	return &Preparer{limits: limits, previewDir: previewDir}
}

func (p *Preparer) Limits() Limits {
	return p.limits
}

// Prepare validates files and, when optimize is set, shrinks images. Invalid
// files are left out and described in the returned error strings; valid ones
// are returned in input order.
func (p *Preparer) Prepare(ctx context.Context, files []File, optimize bool) ([]*PendingAttachment, []string) {
	var errs []string
	if len(files) > p.limits.MaxFiles {
		errs = append(errs, fmt.Sprintf("Maximum %d fichiers autorisés (%d ignorés)", p.limits.MaxFiles, len(files)-p.limits.MaxFiles))
		files = files[:p.limits.MaxFiles]
	}

	// Each file writes only its own slot; results are merged once all are done.
	results := make([]*PendingAttachment, len(files))
	failures := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		i := i
		g.Go(func() error {
			results[i], failures[i] = p.prepareOne(gctx, files[i], optimize)
			return nil
		})
	}
	_ = g.Wait()

	var valid []*PendingAttachment
	for i := range files {
		if failures[i] != "" {
			errs = append(errs, failures[i])
			continue
		}
		valid = append(valid, results[i])
	}
	return valid, errs
}

func (p *Preparer) prepareOne(ctx context.Context, f File, optimize bool) (*PendingAttachment, string) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Sprintf("%s: traitement annulé", f.Name)
	}

	mimetype := detectMimetype(f)
	switch {
	case !allowedImageTypes[mimetype] && !allowedDocumentTypes[mimetype]:
		return nil, fmt.Sprintf("%s: type de fichier non autorisé (%s)", f.Name, mimetype)
	case int64(len(f.Data)) > p.limits.MaxFileSize:
		return nil, fmt.Sprintf("%s: fichier trop volumineux (max %d Mo)", f.Name, p.limits.MaxFileSize/megabyte)
	}

	pending := &PendingAttachment{
		Id:       uuid.New().String(),
		Filename: f.Name,
		Mimetype: mimetype,
		Size:     int64(len(f.Data)),
		Data:     f.Data,
	}

	if optimize && isImage(mimetype) {
		data, err := optimizeImage(f.Data, p.limits.MaxWidth, p.limits.MaxHeight, p.limits.Quality)
		if err != nil {
			log.Printf("Unable to optimize %s: %v", f.Name, err)
			return nil, fmt.Sprintf("%s: image illisible, optimisation impossible", f.Name)
		}
		pending.Data = data
		pending.Size = int64(len(data))
		pending.Mimetype = "image/jpeg"
		pending.Filename = strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg"
		pending.Optimized = true
	}

	if isImage(pending.Mimetype) {
		path, err := p.writePreview(pending)
		if err != nil {
			log.Printf("Unable to create preview for %s: %v", f.Name, err)
		}
		pending.preview = path
	}

	return pending, ""
}

func (p *Preparer) writePreview(pending *PendingAttachment) (string, error) {
	file, err := os.CreateTemp(p.previewDir, "preview-*"+filepath.Ext(pending.Filename))
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := file.Write(pending.Data); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func detectMimetype(f File) string {
	mimetype := strings.ToLower(strings.TrimSpace(f.Mimetype))
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = strings.TrimSpace(mimetype[:i])
	}
	if mimetype != "" && mimetype != "application/octet-stream" {
		return mimetype
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	if known, ok := extensionTypes[ext]; ok {
		return known
	}
	byExt := mime.TypeByExtension(ext)
	if i := strings.IndexByte(byExt, ';'); i >= 0 {
		byExt = byExt[:i]
	}
	if byExt == "" {
		return mimetype
	}
	return byExt
}

func isImage(mimetype string) bool {
	return allowedImageTypes[mimetype]
}

// Tray holds the attachments waiting for the next send. Its capacity applies
// across successive drops, not just within one Prepare call.
type Tray struct {
	mu    sync.Mutex
	items []*PendingAttachment
	max   int
}

func NewTray(max int) *Tray {
	return &Tray{max: max}
}

// Add appends attachments until the tray is full. Overflowing attachments are
// released and reported.
func (t *Tray) Add(items ...*PendingAttachment) ([]*PendingAttachment, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var added []*PendingAttachment
	var errs []string
	for _, item := range items {
		if len(t.items) >= t.max {
			item.Release()
			errs = append(errs, fmt.Sprintf("%s: maximum %d pièces jointes par message", item.Filename, t.max))
			continue
		}
		t.items = append(t.items, item)
		added = append(added, item)
	}
	return added, errs
}

func (t *Tray) Get(id string) (*PendingAttachment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range t.items {
		if item.Id == id {
			return item, true
		}
	}
	return nil, false
}

func (t *Tray) List() []*PendingAttachment {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]*PendingAttachment, len(t.items))
	copy(items, t.items)
	return items
}

func (t *Tray) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Remove drops an attachment and releases its preview.
func (t *Tray) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, item := range t.items {
		if item.Id == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			item.Release()
			return nil
		}
	}
	return ErrAttachmentNotFound
}

// Take removes the named attachments from the tray and hands them to the
// caller, who becomes responsible for releasing them. Either all ids are found
// or nothing is taken.
func (t *Tray) Take(ids []string) ([]*PendingAttachment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	taken := make([]*PendingAttachment, 0, len(ids))
	for _, id := range ids {
		found := false
		for _, item := range t.items {
			if item.Id == id {
				taken = append(taken, item)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, id)
		}
	}

	kept := t.items[:0]
	for _, item := range t.items {
		if !containsAttachment(taken, item) {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(t.items); i++ {
		t.items[i] = nil
	}
	t.items = kept
	return taken, nil
}

// Clear releases every attachment still in the tray.
func (t *Tray) Clear() {
	t.mu.Lock()
	items := t.items
	t.items = nil
	t.mu.Unlock()

	for _, item := range items {
		item.Release()
	}
}

func containsAttachment(items []*PendingAttachment, target *PendingAttachment) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
