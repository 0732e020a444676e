package testutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/skald-labs/skald/domain/chunking"
	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/domain/progress"
	"github.com/skald-labs/skald/pkg/embeddings"
	"github.com/skald-labs/skald/pkg/whisper"
)

// PipelineSuite drives the workflow engine end to end against a real
// database and a stubbed Whisper service: claim, heartbeat, milestone
// progress, retry, cancellation, and crash recovery.
//
// The engine executes on pool connections, so this suite does not use
// per-test transactions; every test works on its own jobs.
type PipelineSuite struct {
	suite.Suite
	Ctx    context.Context
	TestDB *TestDB
}

func TestPipelineSuite(t *testing.T) {
	SkipInExternalMode(t, "drives the engine against a local database")
	suite.Run(t, &PipelineSuite{})
}

func (s *PipelineSuite) SetupSuite() {
	s.Ctx = context.Background()

	testDB, err := SetupTestDB(s.Ctx, "pipeline")
	if err != nil {
		s.T().Skipf("postgres unavailable, skipping suite: %v", err)
		return
	}
	s.TestDB = testDB
}

func (s *PipelineSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// harness bundles an engine wired to the suite database with the
// repositories the tests assert through.
type harness struct {
	engine *pipeline.Engine
	bus    *progress.Bus
	jobs   *jobs.Repository
	repo   *pipeline.Repository
	cancel context.CancelFunc
}

// newHarness builds an engine pointed at the given Whisper URL with
// tight polling so tests settle quickly.
func (s *PipelineSuite) newHarness(whisperURL string) *harness {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := *s.TestDB.Config
	cfg.Whisper.Enabled = true
	cfg.Whisper.ServiceURL = whisperURL
	cfg.Whisper.TimeoutMs = 5000
	cfg.Pipeline.Enabled = true
	cfg.Pipeline.Concurrency = 2
	cfg.Pipeline.PollIntervalMs = 20
	cfg.Pipeline.HeartbeatIntervalMs = 50
	cfg.Pipeline.StaleAfterMs = 200

	db := s.TestDB.DB
	jobsRepo := jobs.NewRepository(db, log)
	chunksRepo := chunks.NewRepository(db, log)
	pipelineRepo := pipeline.NewRepository(db, log)
	bus := progress.NewBus(log)

	engine := pipeline.NewEngine(pipeline.EngineParams{
		DB:         db,
		Repo:       pipelineRepo,
		JobsRepo:   jobsRepo,
		ChunksRepo: chunksRepo,
		Whisper:    whisper.NewClient(&cfg, log),
		Chunker:    chunking.NewService(offlineLLM{}, &cfg, log),
		Embedder:   embeddings.NewLocalService(log),
		Bus:        bus,
		Config:     &cfg,
		Log:        log,
	})

	return &harness{
		engine: engine,
		bus:    bus,
		jobs:   jobsRepo,
		repo:   pipelineRepo,
	}
}

// start runs the engine; the returned stop is idempotent and safe to
// both defer and call inline.
func (s *PipelineSuite) start(h *harness) (stop func()) {
	ctx, cancel := context.WithCancel(s.Ctx)
	h.cancel = cancel
	s.Require().NoError(h.engine.Start(ctx))

	return func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = h.engine.Stop(stopCtx)
		cancel()
	}
}

// writeAudioFixture drops a fake audio file for the stub to "transcribe".
func (s *PipelineSuite) writeAudioFixture(name string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte("fake audio bytes"), 0o644))
	return path
}

func (s *PipelineSuite) createJob(filePath string) int64 {
	id, err := CreateTestJob(s.Ctx, s.TestDB.DB, TestJob{
		UserID:   RegularUser.ID,
		Filename: filepath.Base(filePath),
		FilePath: filePath,
	})
	s.Require().NoError(err)
	return id
}

func (s *PipelineSuite) waitForStatus(jobID int64, want jobs.Status) *jobs.Job {
	var job *jobs.Job
	s.Require().Eventually(func() bool {
		var err error
		job, err = s.jobByID(jobID)
		return err == nil && job.Status == want
	}, 20*time.Second, 50*time.Millisecond, "job %d never reached %s", jobID, want)
	return job
}

func (s *PipelineSuite) jobByID(id int64) (*jobs.Job, error) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return jobs.NewRepository(s.TestDB.DB, log).GetByID(s.Ctx, id)
}

func (s *PipelineSuite) countRows(query string, args ...any) int {
	var n int
	s.Require().NoError(s.TestDB.DB.NewRaw(query, args...).Scan(s.Ctx, &n))
	return n
}

// stubResult is the transcript every healthy stub returns.
func stubResult() whisper.Result {
	return whisper.Result{
		Text:     "First topic sentence one. First topic sentence two. Second topic closes it out.",
		Language: "en",
		Segments: []whisper.Segment{
			{ID: 0, Start: 0, End: 4.5, Text: "First topic sentence one."},
			{ID: 1, Start: 4.5, End: 9.0, Text: "First topic sentence two."},
			{ID: 2, Start: 9.0, End: 14.0, Text: "Second topic closes it out."},
		},
	}
}

func healthyWhisper(calls *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stubResult())
	}))
}

// TestJobRunsToCompletion walks a job through all three activities and
// checks milestone ordering, durable outputs, and completion markers.
// The chunking oracle is offline throughout, so the run also proves the
// sentence fallback carries the job to completed.
func (s *PipelineSuite) TestJobRunsToCompletion() {
	stub := healthyWhisper(nil)
	defer stub.Close()

	h := s.newHarness(stub.URL)
	jobID := s.createJob(s.writeAudioFixture("talk.mp3"))

	updates, unsubscribe := h.bus.Subscribe(jobID)
	defer unsubscribe()

	stop := s.start(h)
	defer stop()

	_, err := h.engine.StartJob(s.Ctx, jobID)
	s.Require().NoError(err)

	s.waitForStatus(jobID, jobs.StatusCompleted)
	stop()

	// All publishes finished once Stop returned; drain the buffer.
	var seq []progress.Update
drain:
	for {
		select {
		case u := <-updates:
			seq = append(seq, u)
		default:
			break drain
		}
	}

	s.Require().NotEmpty(seq)
	var progresses []int
	for _, u := range seq {
		progresses = append(progresses, u.Progress)
	}
	s.Equal([]int{
		jobs.ProgressStarted,
		jobs.ProgressTranscribed,
		jobs.ProgressChunked,
		jobs.ProgressCompleted,
	}, progresses)
	s.Equal(jobs.StatusProcessing, seq[0].Status)
	s.Equal(jobs.StatusCompleted, seq[len(seq)-1].Status)

	job, err := s.jobByID(jobID)
	s.Require().NoError(err)
	s.Equal(jobs.ProgressCompleted, job.Progress)
	s.Equal("en", job.Language)
	s.Contains(job.Transcript, "First topic sentence one.")
	s.Require().NotNil(job.WorkflowRunID)

	// Fallback chunking produced embedded chunks.
	s.Greater(s.countRows(
		"SELECT count(*) FROM skald.job_chunks WHERE job_id = ?", jobID), 0)
	s.Zero(s.countRows(
		"SELECT count(*) FROM skald.job_chunks WHERE job_id = ? AND embedding IS NULL", jobID))

	// One marker per activity, each carrying its output summary.
	s.Equal(3, s.countRows(
		"SELECT count(*) FROM skald.activity_completions WHERE run_id = ?", *job.WorkflowRunID))
	var segmentCount string
	s.Require().NoError(s.TestDB.DB.NewRaw(
		"SELECT payload->>'segments' FROM skald.activity_completions WHERE run_id = ? AND activity = 'transcribe'",
		*job.WorkflowRunID).Scan(s.Ctx, &segmentCount))
	s.Equal("3", segmentCount)
}

// TestRetryExhaustionFailsJob keeps Whisper returning 500 and expects
// the transcribe task to burn its whole retry budget, then fail the job
// with the service error recorded.
func (s *PipelineSuite) TestRetryExhaustionFailsJob() {
	var calls atomic.Int64
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer stub.Close()

	h := s.newHarness(stub.URL)
	jobID := s.createJob(s.writeAudioFixture("doomed.mp3"))

	stop := s.start(h)
	defer stop()

	_, err := h.engine.StartJob(s.Ctx, jobID)
	s.Require().NoError(err)

	job := s.waitForStatus(jobID, jobs.StatusFailed)
	s.Contains(job.Error, "whisper service returned 500")

	s.Equal(int64(3), calls.Load(), "three attempts, then the budget is spent")
	s.Equal(1, s.countRows(
		"SELECT count(*) FROM skald.pipeline_tasks WHERE job_id = ? AND status = 'failed' AND attempt_count = 3",
		jobID))
	s.Zero(s.countRows(
		"SELECT count(*) FROM skald.activity_completions WHERE job_id = ?", jobID))
}

// TestMissingAudioFailsWithoutRetry points a job at a file that does
// not exist: the first attempt must fail the job permanently, leaving
// no markers and no chunks.
func (s *PipelineSuite) TestMissingAudioFailsWithoutRetry() {
	var calls atomic.Int64
	stub := healthyWhisper(&calls)
	defer stub.Close()

	h := s.newHarness(stub.URL)
	jobID := s.createJob(filepath.Join(s.T().TempDir(), "vanished.mp3"))

	stop := s.start(h)
	defer stop()

	_, err := h.engine.StartJob(s.Ctx, jobID)
	s.Require().NoError(err)

	job := s.waitForStatus(jobID, jobs.StatusFailed)
	s.Contains(job.Error, "read audio file")

	s.Zero(calls.Load(), "the service is never reached for a missing file")
	s.Equal(1, s.countRows(
		"SELECT count(*) FROM skald.pipeline_tasks WHERE job_id = ? AND status = 'failed' AND attempt_count = 1",
		jobID))
	s.Zero(s.countRows(
		"SELECT count(*) FROM skald.activity_completions WHERE job_id = ?", jobID))
	s.Zero(s.countRows(
		"SELECT count(*) FROM skald.job_chunks WHERE job_id = ?", jobID))
}

// TestCancelDuringTranscription requests cancellation while the
// transcribe activity is mid-call; the heartbeat loop must notice and
// settle the job as failed with the cancellation reason.
func (s *PipelineSuite) TestCancelDuringTranscription() {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stubResult())
	}))
	defer stub.Close()

	h := s.newHarness(stub.URL)
	jobID := s.createJob(s.writeAudioFixture("cancelme.mp3"))

	stop := s.start(h)
	defer stop()

	_, err := h.engine.StartJob(s.Ctx, jobID)
	s.Require().NoError(err)

	s.waitForStatus(jobID, jobs.StatusProcessing)

	_, err = h.jobs.RequestCancel(s.Ctx, jobID, RegularUser.ID)
	s.Require().NoError(err)

	job := s.waitForStatus(jobID, jobs.StatusFailed)
	s.Equal(jobs.CancelledError, job.Error)

	s.Empty(job.Transcript, "a cancelled transcription leaves no output")
	s.Zero(s.countRows(
		"SELECT count(*) FROM skald.pipeline_tasks WHERE job_id = ? AND status IN ('pending', 'running')",
		jobID))
}

// TestResumeFromCompletionMarkers simulates a worker crash after the
// transcribe output committed: the job is processing with a transcript
// and marker but no task rows. Engine startup must resume it from the
// chunk activity without calling Whisper again.
func (s *PipelineSuite) TestResumeFromCompletionMarkers() {
	var calls atomic.Int64
	stub := healthyWhisper(&calls)
	defer stub.Close()

	h := s.newHarness(stub.URL)
	jobID := s.createJob(s.writeAudioFixture("resume.mp3"))
	runID := uuid.New()

	result := stubResult()
	segments := make([]jobs.Segment, len(result.Segments))
	for i, seg := range result.Segments {
		segments[i] = jobs.Segment{ID: seg.ID, Start: seg.Start, End: seg.End, Text: seg.Text}
	}

	s.Require().NoError(h.jobs.SetWorkflowRun(s.Ctx, jobID, runID))
	_, err := h.jobs.Transition(s.Ctx, jobID, jobs.StatusProcessing)
	s.Require().NoError(err)
	s.Require().NoError(h.jobs.SaveTranscript(s.Ctx, s.TestDB.DB, jobID,
		jobs.CanonicalTranscript(segments), segments, result.Language))
	s.Require().NoError(h.repo.MarkCompletion(s.Ctx, s.TestDB.DB, jobID, runID,
		pipeline.KindTranscribe, map[string]any{"segments": len(segments)}))

	// Age the job past the stalled threshold so the resume sweep sees it.
	_, err = s.TestDB.DB.NewRaw(
		"UPDATE skald.jobs SET updated_at = now() - interval '1 hour' WHERE id = ?", jobID).
		Exec(s.Ctx)
	s.Require().NoError(err)

	stop := s.start(h)
	defer stop()

	s.waitForStatus(jobID, jobs.StatusCompleted)

	s.Zero(calls.Load(), "transcription must not rerun past its marker")
	s.Greater(s.countRows(
		"SELECT count(*) FROM skald.job_chunks WHERE job_id = ?", jobID), 0)
	s.Equal(3, s.countRows(
		"SELECT count(*) FROM skald.activity_completions WHERE run_id = ?", runID))
}

// TestStaleRecoveryHonorsActivityTimeouts reclaims only tasks whose
// silence exceeds their own activity's window: a transcribe claim two
// minutes quiet is still live, an embed claim is not.
func (s *PipelineSuite) TestStaleRecoveryHonorsActivityTimeouts() {
	h := s.newHarness("http://unused")
	jobID := s.createJob(s.writeAudioFixture("stale.mp3"))
	runID := uuid.New()

	insert := func(kind string) int64 {
		var id int64
		s.Require().NoError(s.TestDB.DB.NewRaw(`
			INSERT INTO skald.pipeline_tasks (job_id, run_id, kind, status, claimed_by, started_at, heartbeat_at)
			VALUES (?, ?, ?, 'running', 'dead-worker', now(), now() - interval '2 minutes')
			RETURNING id
		`, jobID, runID, kind).Scan(s.Ctx, &id))
		return id
	}
	transcribeID := insert("transcribe")
	embedID := insert("embed")

	n, err := h.engine.RecoverStaleTasks(s.Ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Equal("running", s.taskStatus(transcribeID))
	s.Equal("pending", s.taskStatus(embedID))
}

func (s *PipelineSuite) taskStatus(id int64) string {
	var status string
	s.Require().NoError(s.TestDB.DB.NewRaw(
		"SELECT status FROM skald.pipeline_tasks WHERE id = ?", id).Scan(s.Ctx, &status))
	return status
}

// TestTranscriptSavesExactlyOnce covers the one-shot transcript write:
// a late duplicate (a reclaimed worker finishing after its replacement)
// is rejected instead of overwriting the landed output.
func (s *PipelineSuite) TestTranscriptSavesExactlyOnce() {
	h := s.newHarness("http://unused")
	jobID := s.createJob(s.writeAudioFixture("once.mp3"))

	segments := []jobs.Segment{{ID: 0, Start: 0, End: 2, Text: "hello"}}

	s.Require().NoError(h.jobs.SaveTranscript(s.Ctx, s.TestDB.DB, jobID, "hello", segments, "en"))

	err := h.jobs.SaveTranscript(s.Ctx, s.TestDB.DB, jobID, "late duplicate", segments, "en")
	s.Require().ErrorIs(err, jobs.ErrTranscriptExists)

	job, err := s.jobByID(jobID)
	s.Require().NoError(err)
	s.Equal("hello", job.Transcript, "the first write wins")
}

// TestCompletionMarkerIsAtMostOnce covers the unique-index arbiter: the
// second marker for the same run and activity must fail so the losing
// transaction rolls back its output.
func (s *PipelineSuite) TestCompletionMarkerIsAtMostOnce() {
	h := s.newHarness("http://unused")
	jobID := s.createJob(s.writeAudioFixture("marker.mp3"))
	runID := uuid.New()

	s.Require().NoError(h.repo.MarkCompletion(s.Ctx, s.TestDB.DB, jobID, runID,
		pipeline.KindTranscribe, map[string]any{"segments": 1}))

	err := h.repo.MarkCompletion(s.Ctx, s.TestDB.DB, jobID, runID,
		pipeline.KindTranscribe, map[string]any{"segments": 1})
	s.Require().ErrorIs(err, pipeline.ErrAlreadyCompleted)

	s.Equal(1, s.countRows(
		"SELECT count(*) FROM skald.activity_completions WHERE run_id = ?", runID))
}
