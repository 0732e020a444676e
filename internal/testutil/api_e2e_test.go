package testutil

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/skald-labs/skald/pkg/embeddings"
)

// APISuite exercises the HTTP surface end to end through the test
// harness: auth, intake, chunks, search.
type APISuite struct {
	BaseSuite
}

func TestAPISuite(t *testing.T) {
	s := &APISuite{}
	s.SetDBSuffix("api")
	suite.Run(t, s)
}

func (s *APISuite) TestHealthIsPublic() {
	resp := s.Client.GET("/healthz")
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *APISuite) TestMeRequiresAuth() {
	s.SkipIfExternalServer("/api/test routes only exist in-process")

	resp := s.Client.GET("/api/test/me")
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *APISuite) TestMeReturnsTokenClaims() {
	s.SkipIfExternalServer("/api/test routes only exist in-process")

	resp := s.Client.GET("/api/test/me", WithAuth(s.UserToken))
	s.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		ID     string   `json:"id"`
		Email  string   `json:"email"`
		Scopes []string `json:"scopes"`
	}
	s.Require().NoError(resp.JSON(&body))
	s.Equal(RegularUser.ID, body.ID)
	s.Equal(RegularUser.Email, body.Email)
	s.ElementsMatch(RegularUser.Scopes, body.Scopes)
}

func (s *APISuite) TestScopeEnforcement() {
	s.SkipIfExternalServer("mints local tokens")

	noScope := MustIssueTestToken(s.Server.Config, NoScopeUser)
	resp := s.Client.GET("/api/test/scoped", WithAuth(noScope))
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.Client.GET("/api/test/scoped", WithAuth(s.UserToken))
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *APISuite) TestUploadRejectsNonAudio() {
	form := NewMultipartForm()
	s.Require().NoError(form.AddFile("file", "notes.txt", []byte("plain text")))
	form.Close()

	resp := s.Client.POST("/api/upload", WithAuth(s.UserToken), WithMultipartForm(form))
	s.Equal(http.StatusUnsupportedMediaType, resp.StatusCode)
}

func (s *APISuite) TestUploadRequiresWriteScope() {
	s.SkipIfExternalServer("mints local tokens")

	form := NewMultipartForm()
	s.Require().NoError(form.AddFile("file", "talk.mp3", []byte("fake audio")))
	form.Close()

	resp := s.Client.POST("/api/upload", WithAuth(s.ReadOnlyToken), WithMultipartForm(form))
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *APISuite) TestUploadCreatesJob() {
	s.SkipIfExternalServer("asserts on an empty per-test database")

	form := NewMultipartForm()
	s.Require().NoError(form.AddFile("file", "standup.mp3", []byte("fake audio bytes")))
	form.Close()

	resp := s.Client.POST("/api/upload", WithAuth(s.UserToken), WithMultipartForm(form))
	s.Require().Equal(http.StatusCreated, resp.StatusCode, resp.String())

	var job struct {
		ID       int64  `json:"id"`
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	s.Require().NoError(resp.JSON(&job))
	s.NotZero(job.ID)
	s.Equal("standup.mp3", job.Filename)
	s.Equal("pending", job.Status)

	// The new job shows up in the owner's list.
	listResp := s.Client.GET("/api/user/jobs", WithAuth(s.UserToken))
	s.Require().Equal(http.StatusOK, listResp.StatusCode)

	var list struct {
		Data       []map[string]any `json:"data"`
		TotalCount int              `json:"totalCount"`
	}
	s.Require().NoError(listResp.JSON(&list))
	s.Equal(1, list.TotalCount)
}

func (s *APISuite) TestJobOwnershipIsolation() {
	s.SkipIfExternalServer("seeds the database directly")

	jobID, err := CreateTestJob(s.Ctx, s.DB(), TestJob{
		UserID: RegularUser.ID,
		Status: "completed",
	})
	s.Require().NoError(err)

	otherToken := MustIssueTestToken(s.Server.Config, OtherUser)

	resp := s.Client.GET(jobPath(jobID), WithAuth(otherToken))
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.Client.GET(jobPath(jobID), WithAuth(s.UserToken))
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *APISuite) TestListChunksForJob() {
	s.SkipIfExternalServer("seeds the database directly")

	jobID, err := CreateTestJob(s.Ctx, s.DB(), TestJob{
		UserID: RegularUser.ID,
		Status: "completed",
	})
	s.Require().NoError(err)

	_, err = CreateTestChunk(s.Ctx, s.DB(), TestChunk{
		JobID:    jobID,
		Text:     "We agreed to ship the beta next sprint.",
		Keywords: []string{"beta", "sprint"},
	})
	s.Require().NoError(err)

	resp := s.Client.GET(jobPath(jobID)+"/chunks", WithAuth(s.UserToken))
	s.Require().Equal(http.StatusOK, resp.StatusCode, resp.String())

	var body struct {
		Data       []map[string]any `json:"data"`
		TotalCount int              `json:"totalCount"`
	}
	s.Require().NoError(resp.JSON(&body))
	s.Equal(1, body.TotalCount)
	s.Equal("We agreed to ship the beta next sprint.", body.Data[0]["text"])
}

func (s *APISuite) TestSemanticSearch() {
	s.SkipIfExternalServer("seeds the database directly")

	jobID, err := CreateTestJob(s.Ctx, s.DB(), TestJob{
		UserID:   RegularUser.ID,
		Filename: "planning.mp3",
		Status:   "completed",
	})
	s.Require().NoError(err)

	// Embed fixtures with the same local provider the server uses so
	// cosine ordering is meaningful.
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	embedder := embeddings.NewLocalService(log)

	texts := []string{
		"The budget review is scheduled for Friday afternoon.",
		"Deployment of the search service went smoothly.",
	}
	vectors, err := embedder.EmbedDocuments(s.Ctx, texts)
	s.Require().NoError(err)

	for i, text := range texts {
		_, err = CreateTestChunk(s.Ctx, s.DB(), TestChunk{
			JobID:      jobID,
			ChunkIndex: i,
			Text:       text,
			Embedding:  vectors[i],
		})
		s.Require().NoError(err)
	}

	resp := s.Client.GET("/api/search?q=budget+review+friday", WithAuth(s.UserToken))
	s.Require().Equal(http.StatusOK, resp.StatusCode, resp.String())

	var body struct {
		Query   string `json:"query"`
		Count   int    `json:"count"`
		Results []struct {
			JobID int64  `json:"jobId"`
			Text  string `json:"text"`
		} `json:"results"`
	}
	s.Require().NoError(resp.JSON(&body))
	s.Equal(2, body.Count)
	s.Equal(jobID, body.Results[0].JobID)
	s.Equal(texts[0], body.Results[0].Text)
}

func (s *APISuite) TestSearchRequiresQuery() {
	resp := s.Client.GET("/api/search", WithAuth(s.UserToken))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestAdminJobsNeedsAdminScope() {
	s.SkipIfExternalServer("mints local tokens")

	resp := s.Client.GET("/api/admin/jobs", WithAuth(s.UserToken))
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.Client.GET("/api/admin/jobs", WithAuth(s.AdminToken))
	s.Equal(http.StatusOK, resp.StatusCode)
}

func jobPath(id int64) string {
	return "/api/jobs/" + strconv.FormatInt(id, 10)
}
