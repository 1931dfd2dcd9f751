package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/autofill"
	"github.com/capstack/origination/common/config"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/models"
	"github.com/capstack/origination/common/redis"
	"github.com/capstack/origination/common/resume"
	"github.com/capstack/origination/common/store"
)

type stubExtractor struct {
	sections map[string]resume.Section
	err      error
}

func (s *stubExtractor) Extract(ctx context.Context, resumeID uuid.UUID, documentRefs []string) (map[string]resume.Section, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sections, nil
}

type workerFixture struct {
	mr     *miniredis.Miniredis
	redis  *redis.Client
	store  *store.MemoryStore
	worker *AutofillWorker
	cfg    *config.Config
}

func newWorkerFixture(t *testing.T, extractor autofill.Extractor) *workerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	underlying := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { underlying.Close() })

	log := logger.New("error", "text")
	wrapped := redis.NewClient(underlying, log)
	st := store.NewMemoryStore()

	cfg := &config.Config{
		Autofill: config.AutofillConfig{
			Stream: "resume.autofill.jobs",
			Group:  "autofill_workers",
			JobTTL: 2 * time.Minute,
		},
	}

	orch := autofill.NewOrchestrator(st, extractor, nil, nil, log, 0)
	w := NewAutofillWorker(wrapped, orch, cfg, log)

	return &workerFixture{mr: mr, redis: wrapped, store: st, worker: w, cfg: cfg}
}

// start runs the worker loop for the duration of the test.
func (f *workerFixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := f.worker.Start(ctx); err != nil {
			t.Errorf("worker stopped with error: %v", err)
		}
	}()
}

// enqueue mirrors what the API does: reserve the slot, then add the job.
func (f *workerFixture) enqueue(t *testing.T, job models.AutofillJob) {
	t.Helper()
	ctx := context.Background()

	acquired, err := f.redis.SetNX(ctx, autofill.InflightKey(job.ResumeID), job.ID.String(), f.cfg.Autofill.JobTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	payload, err := json.Marshal(job)
	require.NoError(t, err)
	_, err = f.redis.AddToStream(ctx, f.cfg.Autofill.Stream, map[string]interface{}{"job": string(payload)})
	require.NoError(t, err)
}

func seedResume(t *testing.T, st store.Store) uuid.UUID {
	t.Helper()
	resumeID := uuid.New()
	require.NoError(t, st.EnsurePointer(context.Background(), resumeID))

	content := resume.NewContent()
	content.Sections["propertyInfo"] = resume.Section{
		"unitCount": {Value: "48", Source: resume.UserInput()},
	}
	_, err := st.Persist(context.Background(), resumeID, content, "analyst-1")
	require.NoError(t, err)
	return resumeID
}

func TestWorkerRunsQueuedJob(t *testing.T) {
	extractor := &stubExtractor{sections: map[string]resume.Section{
		"propertyInfo": {
			"unitCount": {Value: "52", Source: resume.Document("Rent Roll")},
		},
	}}
	f := newWorkerFixture(t, extractor)
	resumeID := seedResume(t, f.store)

	job := models.AutofillJob{ID: uuid.New(), ResumeID: resumeID, DocumentRefs: []string{"doc-1"}, EnqueuedAt: time.Now().UTC()}
	f.enqueue(t, job)
	f.start(t)

	require.Eventually(t, func() bool {
		latest, err := f.store.Load(context.Background(), resumeID)
		return err == nil && latest.VersionNumber == 2
	}, 3*time.Second, 20*time.Millisecond)

	latest, err := f.store.Load(context.Background(), resumeID)
	require.NoError(t, err)
	assert.Equal(t, "52", latest.Content.Field("propertyInfo", "unitCount").Value)

	// The slot is free again once the run is over.
	require.Eventually(t, func() bool {
		return !f.mr.Exists(autofill.InflightKey(resumeID))
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWorkerReleasesSlotWhenRunFails(t *testing.T) {
	extractor := &stubExtractor{err: assert.AnError}
	f := newWorkerFixture(t, extractor)
	resumeID := seedResume(t, f.store)

	job := models.AutofillJob{ID: uuid.New(), ResumeID: resumeID, DocumentRefs: []string{"doc-1"}, EnqueuedAt: time.Now().UTC()}
	f.enqueue(t, job)
	f.start(t)

	require.Eventually(t, func() bool {
		return !f.mr.Exists(autofill.InflightKey(resumeID))
	}, 3*time.Second, 20*time.Millisecond)

	// Nothing was written.
	history, err := f.store.History(context.Background(), resumeID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestWorkerSkipsMalformedJob(t *testing.T) {
	extractor := &stubExtractor{sections: map[string]resume.Section{
		"propertyInfo": {
			"unitCount": {Value: "52", Source: resume.Document("Rent Roll")},
		},
	}}
	f := newWorkerFixture(t, extractor)
	resumeID := seedResume(t, f.store)

	// A malformed message ahead of a valid one must not wedge the loop.
	_, err := f.redis.AddToStream(context.Background(), f.cfg.Autofill.Stream, map[string]interface{}{"job": "not json"})
	require.NoError(t, err)
	_, err = f.redis.AddToStream(context.Background(), f.cfg.Autofill.Stream, map[string]interface{}{"unexpected": "shape"})
	require.NoError(t, err)

	job := models.AutofillJob{ID: uuid.New(), ResumeID: resumeID, DocumentRefs: []string{"doc-1"}, EnqueuedAt: time.Now().UTC()}
	f.enqueue(t, job)
	f.start(t)

	require.Eventually(t, func() bool {
		latest, err := f.store.Load(context.Background(), resumeID)
		return err == nil && latest.VersionNumber == 2
	}, 3*time.Second, 20*time.Millisecond)
}
