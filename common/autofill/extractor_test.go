package autofill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstack/origination/common/config"
)

func newTestExtractor(t *testing.T, handler http.HandlerFunc) *HTTPExtractor {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Extraction: config.ExtractionConfig{
			URL:     server.URL,
			APIKey:  "test-key",
			Timeout: 5 * time.Second,
		},
	}
	return NewHTTPExtractor(cfg, testLogger())
}

func TestExtractDecodesCandidates(t *testing.T) {
	resumeID := uuid.New()

	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/extract", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			ResumeID     uuid.UUID `json:"resume_id"`
			DocumentRefs []string  `json:"document_refs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, resumeID, req.ResumeID)
		assert.Equal(t, []string{"doc-1", "doc-2"}, req.DocumentRefs)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"propertyInfo": {
				"unitCount": {"value": "52", "source": {"type": "document", "name": "Rent Roll"}},
				"yearBuilt": 1987
			},
			"_meta": {"model": "v3"},
			"ignored": "not a section",
			"emptySection": {}
		}`))
	})

	sections, err := extractor.Extract(context.Background(), resumeID, []string{"doc-1", "doc-2"})
	require.NoError(t, err)

	require.Len(t, sections, 1)
	prop := sections["propertyInfo"]
	require.NotNil(t, prop)

	assert.Equal(t, "52", prop["unitCount"].Value)
	assert.Equal(t, "Rent Roll", prop["unitCount"].Source.Name)
	// Bare values decode too; the merge treats them as candidates.
	assert.Equal(t, float64(1987), prop["yearBuilt"].Value)
}

func TestExtractRejectsNonOKStatus(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := extractor.Extract(context.Background(), uuid.New(), []string{"doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestExtractRejectsUnparseableBody(t *testing.T) {
	extractor := newTestExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway timeout</html>"))
	})

	_, err := extractor.Extract(context.Background(), uuid.New(), []string{"doc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode extraction response")
}
