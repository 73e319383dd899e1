package gateway

import (
	"bufio"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beehive-labs/swarm-orchestrator/internal/errs"
)

// maxUploadSize bounds a single files.upload body; attachments are meant for
// small artifacts referenced from mail, not bulk object storage.
const maxUploadSize = 25 << 20 // 25 MiB

// FileMeta describes one stored attachment blob.
type FileMeta struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// FileStore persists attachment blobs referenced by mail.Attachment,
// outside the mail plane's own queues, keyed by a generated id.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore creates a FileStore rooted at <dataRoot>/files.
func NewFileStore(fs afero.Fs, dataRoot string) *FileStore {
	return &FileStore{fs: fs, root: filepath.Join(dataRoot, "files")}
}

// blobExt carries the uploaded filename's extension onto the stored blob,
// so the on-disk layout reads files/<fileId>.<ext>.
func blobExt(filename string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return ".bin"
}

func (f *FileStore) blobPath(id, filename string) string {
	return filepath.Join(f.root, id+blobExt(filename))
}

func (f *FileStore) metaPath(id string) string { return filepath.Join(f.root, id+".meta.json") }

// Put stores src under a fresh id and returns its metadata.
func (f *FileStore) Put(filename, mimeType string, src io.Reader) (FileMeta, error) {
	if err := f.fs.MkdirAll(f.root, 0o755); err != nil {
		return FileMeta{}, errs.NewIOError(f.root, err)
	}

	id := uuid.NewString()
	path := f.blobPath(id, filename)
	dst, err := f.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return FileMeta{}, errs.NewIOError(path, err)
	}
	n, err := io.Copy(dst, io.LimitReader(src, maxUploadSize+1))
	_ = dst.Close()
	if err != nil {
		return FileMeta{}, errs.NewIOError(path, err)
	}
	if n > maxUploadSize {
		_ = f.fs.Remove(path)
		return FileMeta{}, errs.NewValidationError("attachment exceeds maximum upload size")
	}

	meta := FileMeta{ID: id, Filename: filename, MimeType: mimeType, Size: n, CreatedAt: time.Now().UTC()}
	if err := writeJSONFile(f.fs, f.metaPath(id), meta); err != nil {
		return FileMeta{}, err
	}
	return meta, nil
}

// Meta returns a stored attachment's metadata.
func (f *FileStore) Meta(id string) (FileMeta, error) {
	var meta FileMeta
	if err := readJSONFile(f.fs, f.metaPath(id), &meta); err != nil {
		return FileMeta{}, errs.NewNotFoundError("file", id)
	}
	return meta, nil
}

// Open returns a reader over the stored blob's bytes. The blob's on-disk
// name depends on the uploaded filename, so the metadata is consulted
// first.
func (f *FileStore) Open(id string) (afero.File, error) {
	meta, err := f.Meta(id)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(f.blobPath(id, meta.Filename))
	if err != nil {
		return nil, errs.NewNotFoundError("file", id)
	}
	return file, nil
}

func (s *Server) handleFilesUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, errs.NewValidationError("malformed multipart upload: "+err.Error()))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, errs.NewValidationError("missing \"file\" field"))
		return
	}
	defer file.Close()

	meta, err := s.files.Put(header.Filename, contentTypeOf(header), file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func contentTypeOf(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) handleFilesFetch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	meta, err := s.files.Meta(id)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.files.Open(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+meta.Filename+"\"")
	_, _ = io.Copy(w, blob)
}

func (s *Server) handleFilesMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := s.files.Meta(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// tailLog returns the last n lines of <dir>/transcript.log, or nil if it
// does not exist yet (an agent that has never logged anything).
func tailLog(fs afero.Fs, dir string, n int) []string {
	path := filepath.Join(dir, "transcript.log")
	f, err := fs.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}
