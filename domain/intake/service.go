package intake

import (
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/internal/storage"
	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/whisper"
)

// audioExtensions whitelists upload file types. Whisper handles
// containers beyond these, but the intake surface stays conservative.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".mp4":  true,
	".ogg":  true,
	".oga":  true,
	".flac": true,
	".aac":  true,
	".webm": true,
}

// Service owns job intake: accepting uploads, starting pipeline runs,
// cancellation and deletion.
type Service struct {
	jobsRepo     *jobs.Repository
	pipelineRepo *pipeline.Repository
	engine       *pipeline.Engine
	whisper      *whisper.Client
	storage      *storage.Service
	cfg          *config.Config
	log          *slog.Logger
}

// NewService creates a new intake service
func NewService(
	jobsRepo *jobs.Repository,
	pipelineRepo *pipeline.Repository,
	engine *pipeline.Engine,
	whisperClient *whisper.Client,
	storageSvc *storage.Service,
	cfg *config.Config,
	log *slog.Logger,
) *Service {
	return &Service{
		jobsRepo:     jobsRepo,
		pipelineRepo: pipelineRepo,
		engine:       engine,
		whisper:      whisperClient,
		storage:      storageSvc,
		cfg:          cfg,
		log:          log.With(logger.Scope("intake")),
	}
}

// Upload validates and stores an uploaded audio file, creates the job
// row, and starts its pipeline run.
func (s *Service) Upload(ctx context.Context, userID string, file *multipart.FileHeader) (*jobs.Job, error) {
	if err := s.validate(file); err != nil {
		return nil, err
	}

	path, err := s.saveFile(file)
	if err != nil {
		return nil, err
	}

	job := &jobs.Job{
		UserID:   userID,
		Filename: file.Filename,
		FilePath: path,
		Status:   jobs.StatusPending,
	}

	if err := s.jobsRepo.Create(ctx, job); err != nil {
		// Don't leave the file behind if the job row never existed.
		_ = os.Remove(path)
		return nil, err
	}

	if _, err := s.engine.StartJob(ctx, job.ID); err != nil {
		// Job row exists but has no task; the stuck-pending sweep will
		// retry the enqueue, so the upload still succeeds.
		s.log.Error("failed to start pipeline run for new job", logger.Error(err),
			slog.Int64("job_id", job.ID))
	}

	s.archiveAsync(job, file.Size)

	s.log.Info("upload accepted",
		slog.Int64("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.Int64("size_bytes", file.Size))

	return job, nil
}

// validate enforces size and type limits before any bytes hit disk.
func (s *Service) validate(file *multipart.FileHeader) error {
	if file == nil || file.Filename == "" {
		return apperror.ErrBadRequest.WithMessage("file required in multipart form")
	}

	if file.Size > s.whisper.MaxFileSizeBytes() {
		return apperror.ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !audioExtensions[ext] {
		return apperror.ErrUnsupportedType
	}

	return nil
}

// saveFile writes the upload to the uploads directory under a
// UUID-prefixed name so concurrent uploads of the same filename never
// collide.
func (s *Service) saveFile(file *multipart.FileHeader) (string, error) {
	dir := s.cfg.Uploads.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperror.ErrInternal.WithMessage("failed to prepare upload directory").WithInternal(err)
	}

	name := uuid.New().String() + "_" + storage.SanitizeFilename(file.Filename)
	path := filepath.Join(dir, name)

	src, err := file.Open()
	if err != nil {
		return "", apperror.ErrInternal.WithMessage("failed to read uploaded file").WithInternal(err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return "", apperror.ErrInternal.WithMessage("failed to store uploaded file").WithInternal(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", apperror.ErrInternal.WithMessage("failed to store uploaded file").WithInternal(err)
	}

	return path, nil
}

// archiveAsync mirrors the audio to object storage in the background.
// Archival is best effort and never blocks or fails the upload.
func (s *Service) archiveAsync(job *jobs.Job, size int64) {
	if s.storage == nil || !s.storage.Enabled() {
		return
	}

	go func() {
		ctx := context.Background()

		f, err := os.Open(job.FilePath)
		if err != nil {
			s.log.Warn("archive skipped, cannot reopen upload", logger.Error(err),
				slog.Int64("job_id", job.ID))
			return
		}
		defer f.Close()

		key := storage.GenerateAudioKey(job.UserID, job.Filename)
		if _, err := s.storage.Upload(ctx, key, f, size, storage.UploadOptions{}); err != nil {
			s.log.Warn("audio archival failed", logger.Error(err), slog.Int64("job_id", job.ID))
			return
		}

		if err := s.jobsRepo.SetArchiveKey(ctx, job.ID, key); err != nil {
			s.log.Warn("failed to record archive key", logger.Error(err), slog.Int64("job_id", job.ID))
		}
	}()
}

// Cancel requests cancellation of a job. Pending tasks are cancelled
// immediately; a running activity notices the flag at its next
// heartbeat. A job that never reached a worker is settled right here.
func (s *Service) Cancel(ctx context.Context, userID string, jobID int64) (*jobs.Job, error) {
	job, err := s.jobsRepo.RequestCancel(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if _, err := s.pipelineRepo.CancelPendingForJob(ctx, jobID); err != nil {
		s.log.Warn("failed to cancel pending tasks", logger.Error(err), slog.Int64("job_id", jobID))
	}

	// A job no worker has touched yet is settled right here; running
	// activities notice the flag at their next heartbeat instead.
	if job.Status == jobs.StatusPending {
		if err := s.jobsRepo.SetError(ctx, jobID, jobs.CancelledError); err != nil {
			return nil, err
		}
		job, err = s.jobsRepo.Transition(ctx, jobID, jobs.StatusFailed)
		if err != nil {
			return nil, err
		}
	}

	s.log.Info("cancellation requested", slog.Int64("job_id", jobID))
	return job, nil
}

// Delete removes a job, its chunks and its files. Non-terminal jobs
// are cancelled first so no worker keeps writing into deleted rows.
func (s *Service) Delete(ctx context.Context, userID string, jobID int64) error {
	current, err := s.jobsRepo.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if !current.Status.Terminal() {
		if _, err := s.Cancel(ctx, userID, jobID); err != nil {
			return err
		}
	}

	job, err := s.jobsRepo.Delete(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove audio file", logger.Error(err),
				slog.Int64("job_id", jobID), slog.String("path", job.FilePath))
		}
	}

	if job.ArchiveKey != "" && s.storage != nil && s.storage.Enabled() {
		if err := s.storage.Delete(ctx, job.ArchiveKey); err != nil {
			s.log.Warn("failed to remove archived audio", logger.Error(err),
				slog.Int64("job_id", jobID))
		}
	}

	s.log.Info("job deleted", slog.Int64("job_id", jobID))
	return nil
}

// Transcript returns a completed job's transcript rendered in the
// requested format ("txt" or "srt").
func (s *Service) Transcript(ctx context.Context, userID string, jobID int64, format string) (content, contentType, filename string, err error) {
	job, err := s.jobsRepo.GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		return "", "", "", err
	}

	if job.Status != jobs.StatusCompleted {
		return "", "", "", apperror.ErrJobNotDone
	}

	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))

	switch format {
	case "", "txt":
		return job.Transcript, "text/plain; charset=utf-8", base + ".txt", nil
	case "srt":
		return FormatSRT(job.Segments), "application/x-subrip", base + ".srt", nil
	default:
		return "", "", "", apperror.ErrBadRequest.WithMessage("format must be txt or srt")
	}
}
