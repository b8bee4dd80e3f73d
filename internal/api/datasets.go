package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/duckask/duckask/internal/dataset"
	"github.com/duckask/duckask/internal/dataset/s3"
	"github.com/duckask/duckask/internal/query"
)

// Session is one uploaded dataset. Replacing it keeps the ID.
type Session struct {
	ID       string
	Dataset  *dataset.Dataset
	LoadedAt time.Time
}

// DatasetStore keeps uploaded datasets in memory. Nothing is persisted.
type DatasetStore struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	sessions map[string]Session
}

func NewDatasetStore(clock clockwork.Clock) *DatasetStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DatasetStore{clock: clock, sessions: map[string]Session{}}
}

func (s *DatasetStore) Create(ds *dataset.Dataset) Session {
	session := Session{ID: uuid.NewString(), Dataset: ds, LoadedAt: s.clock.Now().UTC()}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

func (s *DatasetStore) Replace(id string, ds *dataset.Dataset) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return Session{}, false
	}
	session := Session{ID: id, Dataset: ds, LoadedAt: s.clock.Now().UTC()}
	s.sessions[id] = session
	return session, true
}

func (s *DatasetStore) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *DatasetStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

type datasetResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	LoadedAt    time.Time            `json:"loaded_at"`
	RowCount    int                  `json:"row_count"`
	ColumnCount int                  `json:"column_count"`
	Columns     []dataset.ColumnInfo `json:"columns"`
	Head        tableResponse        `json:"head"`
}

type tableResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func newDatasetResponse(session Session) datasetResponse {
	overview := dataset.Describe(session.Dataset)
	return datasetResponse{
		ID:          session.ID,
		Name:        overview.Name,
		LoadedAt:    session.LoadedAt,
		RowCount:    overview.RowCount,
		ColumnCount: overview.ColumnCount,
		Columns:     overview.Columns,
		Head: tableResponse{
			Columns: overview.Head.ColumnNames(),
			Rows:    jsonRows(overview.Head.Rows),
		},
	}
}

func handleCreateDataset(deps Dependencies, maxUpload int64, w http.ResponseWriter, r *http.Request) {
	ds, ok := readDataset(deps, maxUpload, w, r)
	if !ok {
		return
	}
	session := deps.Datasets.Create(ds)
	writeJSON(w, http.StatusCreated, newDatasetResponse(session))
}

func handleReplaceDataset(deps Dependencies, maxUpload int64, w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if _, ok := deps.Datasets.Get(id); !ok {
		writeDatasetNotFound(w, r, id)
		return
	}
	ds, ok := readDataset(deps, maxUpload, w, r)
	if !ok {
		return
	}
	session, ok := deps.Datasets.Replace(id, ds)
	if !ok {
		writeDatasetNotFound(w, r, id)
		return
	}
	writeJSON(w, http.StatusOK, newDatasetResponse(session))
}

func handleGetDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	session, ok := deps.Datasets.Get(id)
	if !ok {
		writeDatasetNotFound(w, r, id)
		return
	}
	writeJSON(w, http.StatusOK, newDatasetResponse(session))
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if !deps.Datasets.Delete(id) {
		writeDatasetNotFound(w, r, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readDataset accepts a multipart upload in the "file" field, a raw body
// named by ?name=, or an object store key in ?s3_key=.
func readDataset(deps Dependencies, maxUpload int64, w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	if key := strings.TrimSpace(r.URL.Query().Get("s3_key")); key != "" {
		if deps.Objects == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "OBJECT_STORE_NOT_CONFIGURED", "object store is not configured", false, nil)
			return nil, false
		}
		ds, err := deps.Objects.Load(r.Context(), key)
		if errors.Is(err, s3.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "OBJECT_NOT_FOUND", "object was not found", false, map[string]any{"s3_key": key})
			return nil, false
		}
		if err != nil {
			writeDecodeError(w, r, err, map[string]any{"s3_key": key})
			return nil, false
		}
		return ds, true
	}

	if maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	}

	name, body, err := uploadBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return nil, false
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false, nil)
		return nil, false
	}
	defer func() { _ = body.Close() }()

	ds, err := dataset.Decode(name, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return nil, false
		}
		writeDecodeError(w, r, err, map[string]any{"name": name})
		return nil, false
	}
	return ds, true
}

func uploadBody(r *http.Request) (string, io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("multipart field %q: %w", "file", err)
		}
		return header.Filename, file, nil
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		return "", nil, errors.New("name query parameter is required for raw uploads")
	}
	return name, r.Body, nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	extra["details"] = err.Error()
	if errors.Is(err, dataset.ErrUnsupportedFormat) {
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "dataset format is not supported", false, extra)
		return
	}
	writeError(r.Context(), w, http.StatusUnprocessableEntity, "DATASET_DECODE_FAILED", "failed to read dataset", false, extra)
}

func writeDatasetNotFound(w http.ResponseWriter, r *http.Request, id string) {
	writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "dataset was not found", false, map[string]any{"id": id})
}

// jsonRows copies rows with NaN and Inf cells replaced by nil.
func jsonRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = append([]any(nil), row...)
	}
	query.SanitizeRows(out)
	return out
}
