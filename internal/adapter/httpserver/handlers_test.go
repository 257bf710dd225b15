package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiregate/screening/internal/config"
	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/internal/usecase"
)

type stubScreenings struct {
	mu   sync.Mutex
	seq  int
	byID map[string]domain.Screening
}

func newStubScreenings() *stubScreenings {
	return &stubScreenings{byID: map[string]domain.Screening{}}
}

func (s *stubScreenings) Create(_ context.Context, sc domain.Screening) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sc.ID = fmt.Sprintf("scr-%d", s.seq)
	s.byID[sc.ID] = sc
	return sc.ID, nil
}

func (s *stubScreenings) Get(_ context.Context, id string) (domain.Screening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.byID[id]
	if !ok {
		return domain.Screening{}, domain.ErrNotFound
	}
	return sc, nil
}

func (s *stubScreenings) UpdateStatus(_ context.Context, id string, status domain.ScreeningStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	sc.Status = status
	if errMsg != nil {
		sc.Error = *errMsg
	}
	s.byID[id] = sc
	return nil
}

func (s *stubScreenings) SaveAnalysis(_ context.Context, id string, job, cv domain.NormalizedProfile, mismatches []domain.Mismatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.byID[id]
	sc.JobProfile = &job
	sc.CVProfile = &cv
	sc.Mismatches = mismatches
	s.byID[id] = sc
	return nil
}

func (s *stubScreenings) FindByIdempotencyKey(_ context.Context, key string) (domain.Screening, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.byID {
		if sc.IdemKey != nil && *sc.IdemKey == key {
			return sc, nil
		}
	}
	return domain.Screening{}, domain.ErrNotFound
}

type stubSessions struct {
	mu   sync.Mutex
	byID map[string]domain.Session
}

func newStubSessions() *stubSessions { return &stubSessions{byID: map[string]domain.Session{}} }

func (s *stubSessions) Create(_ context.Context, sess domain.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = fmt.Sprintf("sess-%d", len(s.byID)+1)
	}
	s.byID[sess.ID] = sess
	return sess.ID, nil
}

func (s *stubSessions) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return sess, nil
}

func (s *stubSessions) GetByScreeningID(_ context.Context, screeningID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byID {
		if sess.ScreeningID == screeningID {
			return sess, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (s *stubSessions) Update(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = sess
	return nil
}

type stubTranscript struct {
	mu   sync.Mutex
	msgs []domain.TranscriptMessage
}

func (s *stubTranscript) Append(_ context.Context, m domain.TranscriptMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *stubTranscript) List(_ context.Context, sessionID string) ([]domain.TranscriptMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TranscriptMessage
	for _, m := range s.msgs {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

type stubQueue struct{}

func (stubQueue) EnqueueScreening(_ context.Context, p domain.ScreeningTaskPayload) (string, error) {
	return p.ScreeningID, nil
}

func newTestServer(t *testing.T) (*Server, *stubScreenings, *stubSessions, *stubTranscript) {
	t.Helper()
	screenings := newStubScreenings()
	sessions := newStubSessions()
	transcript := &stubTranscript{}
	cfg := config.Config{MaxUploadMB: 1, CORSAllowOrigins: "*"}
	srv := NewServer(cfg,
		usecase.NewScreeningService(screenings, sessions, stubQueue{}),
		usecase.NewResultService(screenings, sessions, transcript),
		sessions, nil, nil, nil, nil, nil, nil)
	return srv, screenings, sessions, transcript
}

func testRouter(s *Server) chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/screenings", s.SubmitHandler())
	r.Get("/v1/screenings/{id}", s.GetHandler())
	r.Get("/v1/screenings/{id}/transcript", s.TranscriptHandler())
	r.Get("/healthz", s.HealthzHandler())
	r.Get("/readyz", s.ReadyzHandler())
	return r
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, nameAndContent := range files {
		fw, err := mw.CreateFormFile(field, nameAndContent[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(nameAndContent[1]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitInlineTexts(t *testing.T) {
	t.Parallel()
	srv, screenings, _, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"job_text":         "Senior Go developer, 5+ years",
		"cv_text":          "Go developer with 6 years",
		"must_have_skills": "go, kubernetes",
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "queued", resp["status"])

	sc, err := screenings.Get(context.Background(), resp["id"])
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "kubernetes"}, sc.Hints.MustHaveSkills)
}

func TestSubmitCVFileUpload(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	body, ct := multipartBody(t,
		map[string]string{"job_text": "Go developer"},
		map[string][2]string{"cv": {"cv.txt", "Six years of Go in production."}})

	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSubmitRejectsNonMultipart(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", bytes.NewBufferString(`{"job":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_ARGUMENT")
}

func TestSubmitRejectsUnacceptableAccept(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"job_text": "Go developer"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestSubmitRequiresJob(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{"cv_text": "a resume"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "job")
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	body, ct := multipartBody(t,
		map[string]string{"job_text": "Go developer"},
		map[string][2]string{"cv": {"cv.exe", "MZbinary"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported media type")
}

func TestSubmitRejectsOversizedUpload(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	big := bytes.Repeat([]byte("a"), 3*1024*1024)
	body, ct := multipartBody(t,
		map[string]string{"job_text": "Go developer"},
		map[string][2]string{"cv": {"cv.txt", string(big)}})
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSubmitRejectsBadSalaryHint(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	body, ct := multipartBody(t, map[string]string{
		"job_text":   "Go developer",
		"salary_min": "lots",
	}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "salary_min")
}

func TestSubmitIdempotencyKey(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	router := testRouter(srv)

	post := func() string {
		body, ct := multipartBody(t, map[string]string{"job_text": "Go developer"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/v1/screenings", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Idempotency-Key", "abc-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp["id"]
	}
	assert.Equal(t, post(), post(), "same key, same screening")
}

func TestGetScreening(t *testing.T) {
	t.Parallel()
	srv, screenings, sessions, _ := newTestServer(t)
	id, err := screenings.Create(context.Background(), domain.Screening{Status: domain.ScreeningReady, JobText: "job"})
	require.NoError(t, err)
	_, err = sessions.Create(context.Background(), domain.Session{ScreeningID: id, State: domain.SessionPending})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/screenings/"+id, nil)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.ScreeningView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, domain.ScreeningReady, view.Status)
	assert.Equal(t, domain.SessionPending, view.SessionState)
}

func TestGetScreeningNotFound(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/screenings/missing", nil)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestTranscript(t *testing.T) {
	t.Parallel()
	srv, screenings, sessions, transcript := newTestServer(t)
	id, err := screenings.Create(context.Background(), domain.Screening{Status: domain.ScreeningReady, JobText: "job"})
	require.NoError(t, err)
	sessID, err := sessions.Create(context.Background(), domain.Session{ScreeningID: id, State: domain.SessionActive})
	require.NoError(t, err)
	require.NoError(t, transcript.Append(context.Background(), domain.TranscriptMessage{ID: "1", SessionID: sessID, Sender: domain.SenderBot, Text: "first question"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/screenings/"+id+"/transcript", nil)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []domain.TranscriptMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "first question", resp.Messages[0].Text)
}

func TestTranscriptWithoutSession(t *testing.T) {
	t.Parallel()
	srv, screenings, _, _ := newTestServer(t)
	id, err := screenings.Create(context.Background(), domain.Screening{Status: domain.ScreeningQueued, JobText: "job"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/screenings/"+id+"/transcript", nil)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	testRouter(srv).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		srv, _, _, _ := newTestServer(t)
		srv.DBCheck = func(context.Context) error { return nil }
		srv.RedisCheck = func(context.Context) error { return nil }
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		testRouter(srv).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("one dependency down", func(t *testing.T) {
		t.Parallel()
		srv, _, _, _ := newTestServer(t)
		srv.DBCheck = func(context.Context) error { return nil }
		srv.KafkaCheck = func(context.Context) error { return fmt.Errorf("broker unreachable") }
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		testRouter(srv).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "broker unreachable")
	})
}
