package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hiregate/screening/internal/config"
	"github.com/hiregate/screening/internal/dialogue"
	"github.com/hiregate/screening/internal/domain"
	"github.com/hiregate/screening/internal/usecase"
	"github.com/hiregate/screening/pkg/textx"
)

// Server bundles the handlers with their dependencies and health probes.
type Server struct {
	Cfg        config.Config
	Screenings usecase.ScreeningService
	Results    usecase.ResultService
	Sessions   domain.SessionRepository
	Dialogue   *dialogue.Manager
	Extractor  domain.TextExtractor

	DBCheck    func(context.Context) error
	RedisCheck func(context.Context) error
	KafkaCheck func(context.Context) error
	TikaCheck  func(context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, screenings usecase.ScreeningService, results usecase.ResultService, sessions domain.SessionRepository, dlg *dialogue.Manager, extractor domain.TextExtractor, dbCheck, redisCheck, kafkaCheck, tikaCheck func(context.Context) error) *Server {
	return &Server{
		Cfg:        cfg,
		Screenings: screenings,
		Results:    results,
		Sessions:   sessions,
		Dialogue:   dlg,
		Extractor:  extractor,
		DBCheck:    dbCheck,
		RedisCheck: redisCheck,
		KafkaCheck: kafkaCheck,
		TikaCheck:  tikaCheck,
	}
}

// SubmitHandler accepts a multipart form with a job posting and a resume,
// extracts text, and queues the pair for analysis. The job may arrive as an
// uploaded file (field "job") or inline text (field "job_text"); the resume
// is the "cv" file. Optional recruiter hint fields refine the job profile.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)
		if err := r.ParseMultipartForm(maxBytes * 2); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "payload too large", Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB}}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		jobText, err := s.readTextField(r, "job", "job_text")
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "job"})
			return
		}
		if jobText == "" {
			writeError(w, r, fmt.Errorf("%w: job posting required", domain.ErrInvalidArgument), map[string]string{"field": "job"})
			return
		}
		cvText, err := s.readTextField(r, "cv", "cv_text")
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "cv"})
			return
		}

		hints, err := parseHints(r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		id, err := s.Screenings.Submit(r.Context(), jobText, cvText, hints, r.Header.Get("Idempotency-Key"))
		if err != nil {
			writeError(w, r, fmt.Errorf("submit: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.ScreeningQueued)})
	}
}

// readTextField resolves a document either from an uploaded file or an inline
// text form value, preferring the file when both are present.
func (s *Server) readTextField(r *http.Request, fileField, textField string) (string, error) {
	f, h, err := r.FormFile(fileField)
	if err != nil {
		if inline := r.FormValue(textField); inline != "" {
			return textx.SanitizeText(inline), nil
		}
		return "", nil
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s read: %v", domain.ErrInvalidArgument, fileField, err)
	}
	if !allowedExt(h.Filename) {
		return "", fmt.Errorf("%w: unsupported media type for %s (extension)", domain.ErrInvalidArgument, fileField)
	}
	if m := mimetype.Detect(data); !allowedMIMEFor(m.String(), h.Filename) {
		return "", fmt.Errorf("%w: unsupported media type for %s (content: %s)", domain.ErrInvalidArgument, fileField, m.String())
	}
	return extractUploadedText(r.Context(), s.Extractor, h, data)
}

// extractUploadedText performs text extraction based on content and filename.
// PDF and DOCX go through the external extractor via a temp file; plain text
// is sanitized directly.
func extractUploadedText(ctx context.Context, extractor domain.TextExtractor, h *multipart.FileHeader, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	if ext == ".pdf" || ext == ".docx" {
		if extractor == nil {
			return "", fmt.Errorf("%w: %s requires extractor", domain.ErrInvalidArgument, strings.TrimPrefix(ext, "."))
		}
		tmp, err := os.CreateTemp("", "upload-*")
		if err != nil {
			return "", err
		}
		defer func() { _ = os.Remove(tmp.Name()); _ = tmp.Close() }()
		if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
			return "", err
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		return extractor.ExtractPath(ctx, h.Filename, tmp.Name())
	}
	return textx.SanitizeText(string(data)), nil
}

// allowedExt enforces an allowlist for uploads: .txt, .pdf, .docx
func allowedExt(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".txt") || strings.HasSuffix(n, ".pdf") || strings.HasSuffix(n, ".docx")
}

func allowedMIMEFor(m string, filename string) bool {
	m = strings.ToLower(m)
	// Some detectors misclassify rich .txt content, accept any text/* there
	if strings.HasSuffix(strings.ToLower(filename), ".txt") && strings.HasPrefix(m, "text/") {
		return true
	}
	if strings.HasPrefix(m, "text/plain") {
		return true
	}
	return m == "application/pdf" || m == "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

// hintsForm mirrors the optional recruiter hint fields of the submit form.
type hintsForm struct {
	MustHaveSkills      string `validate:"max=2000"`
	LangRequirement     string `validate:"max=100"`
	LocationRequirement string `validate:"max=200"`
	SalaryMin           string `validate:"max=20"`
	SalaryMax           string `validate:"max=20"`
	SalaryCurrency      string `validate:"max=10"`
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func parseHints(r *http.Request) (domain.Hints, error) {
	form := hintsForm{
		MustHaveSkills:      r.FormValue("must_have_skills"),
		LangRequirement:     r.FormValue("lang_requirement"),
		LocationRequirement: r.FormValue("location_requirement"),
		SalaryMin:           r.FormValue("salary_min"),
		SalaryMax:           r.FormValue("salary_max"),
		SalaryCurrency:      r.FormValue("salary_currency"),
	}
	if err := getValidator().Struct(form); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return domain.Hints{}, fmt.Errorf("%w: hint validation failed: %v", domain.ErrInvalidArgument, verrs)
	}

	var h domain.Hints
	for _, s := range strings.Split(form.MustHaveSkills, ",") {
		if s = strings.TrimSpace(s); s != "" {
			h.MustHaveSkills = append(h.MustHaveSkills, s)
		}
	}
	h.LangRequirement = strings.TrimSpace(form.LangRequirement)
	h.LocationRequirement = strings.TrimSpace(form.LocationRequirement)
	if form.SalaryMin != "" || form.SalaryMax != "" {
		min, err := atoiOrZero(form.SalaryMin)
		if err != nil {
			return domain.Hints{}, fmt.Errorf("%w: salary_min must be a number", domain.ErrInvalidArgument)
		}
		max, err := atoiOrZero(form.SalaryMax)
		if err != nil {
			return domain.Hints{}, fmt.Errorf("%w: salary_max must be a number", domain.ErrInvalidArgument)
		}
		h.SalaryRange = &domain.SalaryRange{Min: min, Max: max, Currency: strings.ToUpper(strings.TrimSpace(form.SalaryCurrency))}
	}
	return h, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// GetHandler returns the aggregate screening view: analysis status,
// mismatches, session state and the final score when present.
func (s *Server) GetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		view, err := s.Results.Fetch(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// TranscriptHandler returns the durable chat transcript for a screening.
func (s *Server) TranscriptHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		msgs, err := s.Results.TranscriptFor(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if msgs == nil {
			msgs = []domain.TranscriptMessage{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

// ReadyzHandler probes DB, Redis, Kafka and Tika.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]usecase.ReadinessCheck, 0, 4)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, usecase.ReadinessCheck{Name: name, OK: false, Details: err.Error()})
			} else {
				checks = append(checks, usecase.ReadinessCheck{Name: name, OK: true})
			}
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("kafka", s.KafkaCheck)
		probe("tika", s.TikaCheck)
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// HealthzHandler is a trivial liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
