package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/document"
	"github.com/voltaudit/voltaudit/pkg/metrics"
	"github.com/voltaudit/voltaudit/pkg/models"
	"github.com/voltaudit/voltaudit/pkg/objectstore"
	"github.com/voltaudit/voltaudit/pkg/pipeline"
)

// uploadMemoryLimit is the in-memory threshold for multipart parsing; larger
// parts spool to disk.
const uploadMemoryLimit = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFrom(r.Context())

	// Three parts at most, each capped at MaxObjectSize by the gateway; the
	// request body cap is a coarse outer bound.
	r.Body = http.MaxBytesReader(w, r.Body, 3*objectstore.MaxObjectSize+(1<<20))
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, models.E(models.KindInvalidInput, "UPLD_002", "file exceeds 50 MiB limit"))
			return
		}
		writeError(w, models.E(models.KindInvalidInput, "UPLD_400", "malformed multipart request"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, models.E(models.KindInvalidInput, "UPLD_400", "missing file part"))
		return
	}
	defer file.Close()

	if _, err := sniffPart(file); err != nil {
		writeError(w, err)
		return
	}

	taskID := uuid.New()
	objectKey := fmt.Sprintf("%s/%s", taskID, header.Filename)
	if err := s.gateway.Put(r.Context(), objectKey, file, header.Size); err != nil {
		writeError(w, err)
		return
	}
	metrics.UploadBytes.Observe(float64(header.Size))

	// Optional complementary photos for thermography cross-checks.
	if err := s.storeComplementary(r, "certificate", pipeline.CertificateKey(taskID)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.storeComplementary(r, "hygrometer", pipeline.HygrometerKey(taskID)); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:        taskID,
		UserID:    identity.UserID,
		Filename:  header.Filename,
		ObjectKey: objectKey,
		SizeBytes: header.Size,
		Status:    models.TaskQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Tasks.Create(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.queue.Enqueue(r.Context(), pipeline.JobProcessReport, pipeline.ProcessArgs{TaskID: taskID}); err != nil {
		_ = s.store.Tasks.MarkFailed(r.Context(), taskID, "enqueue failed: "+err.Error())
		writeError(w, err)
		return
	}

	s.logger.Info("task accepted",
		"task_id", taskID, "user_id", identity.UserID,
		"filename", header.Filename, "size_bytes", header.Size)
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"status":  models.TaskQueued,
	})
}

// storeComplementary uploads an optional named image part under key. A
// missing part is not an error; a non-image part is.
func (s *Server) storeComplementary(r *http.Request, part, key string) error {
	file, header, err := r.FormFile(part)
	if err != nil {
		return nil
	}
	defer file.Close()

	contentType, err := sniffPart(file)
	if err != nil {
		return err
	}
	if contentType == document.ContentPDF {
		return models.E(models.KindInvalidInput, "UPLD_001",
			fmt.Sprintf("%s part must be an image", part))
	}
	return s.gateway.Put(r.Context(), key, file, header.Size)
}

// sniffPart type-checks a multipart file from its leading bytes and rewinds.
func sniffPart(file multipart.File) (document.ContentType, error) {
	head := make([]byte, 8)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", models.E(models.KindInvalidInput, "UPLD_001", "unreadable file part")
	}
	contentType, err := document.Sniff(head[:n])
	if err != nil {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", models.Wrap(models.KindInternal, "UPLD_500", "failed to rewind upload", err)
	}
	return contentType, nil
}

// ownedTask loads a task and enforces ownership. A foreign task is 403, not
// 404: the row exists, the caller just may not see it.
func (s *Server) ownedTask(r *http.Request) (*models.Task, error) {
	identity, _ := auth.IdentityFrom(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, models.E(models.KindNotFound, "TASK_404", "task not found")
	}
	task, err := s.store.Tasks.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if task.UserID != identity.UserID {
		return nil, models.E(models.KindAuthorization, "TASK_403", "task belongs to another user")
	}
	return task, nil
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.ownedTask(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{
		"task_id":    task.ID,
		"status":     task.Status,
		"filename":   task.Filename,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if task.ErrorMessage != nil {
		body["error_message"] = *task.ErrorMessage
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	task, err := s.ownedTask(r)
	if err != nil {
		writeError(w, err)
		return
	}

	switch task.Status {
	case models.TaskQueued, models.TaskProcessing:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"task_id": task.ID,
			"status":  task.Status,
		})
		return
	case models.TaskFailed:
		body := map[string]any{"task_id": task.ID, "status": task.Status}
		if task.ErrorMessage != nil {
			body["error_message"] = *task.ErrorMessage
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	analysis, err := s.store.Analyses.GetByTaskID(r.Context(), task.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	findings, err := s.store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":  task.ID,
		"status":   task.Status,
		"analysis": analysis,
		"findings": findings,
	})
}
