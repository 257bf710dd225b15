package domain

// Repositories (ports)

type ScreeningRepository interface {
	Create(ctx Context, s Screening) (string, error)
	Get(ctx Context, id string) (Screening, error)
	UpdateStatus(ctx Context, id string, status ScreeningStatus, errMsg *string) error
	SaveAnalysis(ctx Context, id string, job, cv NormalizedProfile, mismatches []Mismatch) error
	FindByIdempotencyKey(ctx Context, key string) (Screening, error)
}

type SessionRepository interface {
	Create(ctx Context, s Session) (string, error)
	Get(ctx Context, id string) (Session, error)
	GetByScreeningID(ctx Context, screeningID string) (Session, error)
	Update(ctx Context, s Session) error
}

// TranscriptRepository is an append-only message store keyed by session id.
// Entries are never deleted.
type TranscriptRepository interface {
	Append(ctx Context, m TranscriptMessage) error
	List(ctx Context, sessionID string) ([]TranscriptMessage, error)
}

// Queue (port)

type Queue interface {
	EnqueueScreening(ctx Context, payload ScreeningTaskPayload) (string, error)
}

// ScreeningTaskPayload is the analysis job handed to the worker.
type ScreeningTaskPayload struct {
	ScreeningID string `json:"screening_id"`
	JobText     string `json:"job_text"`
	CVText      string `json:"cv_text"`
	Hints       Hints  `json:"hints"`
}

// TextExtractor (port)
// ExtractPath extracts text from a document at path. Implementations may call
// external services (e.g., Tika). Failure maps to empty CV text upstream.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// ConnectionRegistry (port) guards the at-most-one-live-connection rule per
// session across server replicas. Acquire fails with ErrSessionBusy while
// another holder owns the session; Steal displaces the current holder.
// Refresh extends a held lease and fails with ErrSessionBusy when the holder
// no longer owns it, or ErrNotFound when the lease has lapsed.
type ConnectionRegistry interface {
	Acquire(ctx Context, sessionID, holderID string) error
	Steal(ctx Context, sessionID, holderID string) (displaced string, err error)
	Release(ctx Context, sessionID, holderID string) error
	Refresh(ctx Context, sessionID, holderID string) error
}
