// Package autofill runs document extraction against a resume and folds
// the candidates into a new version without disturbing analyst edits.
package autofill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/capstack/origination/common/config"
	"github.com/capstack/origination/common/logger"
	"github.com/capstack/origination/common/resume"
)

// Extractor produces candidate field values from a set of documents.
type Extractor interface {
	Extract(ctx context.Context, resumeID uuid.UUID, documentRefs []string) (map[string]resume.Section, error)
}

// HTTPExtractor calls the extraction service over HTTP
type HTTPExtractor struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

func NewHTTPExtractor(cfg *config.Config, log *logger.Logger) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimRight(cfg.Extraction.URL, "/"),
		apiKey:  cfg.Extraction.APIKey,
		http:    &http.Client{Timeout: cfg.Extraction.Timeout},
		log:     log,
	}
}

// Extract posts the document references and decodes the candidate
// sections from the response.
func (e *HTTPExtractor) Extract(ctx context.Context, resumeID uuid.UUID, documentRefs []string) (map[string]resume.Section, error) {
	payload, err := json.Marshal(map[string]any{
		"resume_id":     resumeID,
		"document_refs": documentRefs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	url := e.baseURL + "/v1/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extraction request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	sections := e.decodeSections(resumeID, raw)

	e.log.Debug("extraction complete",
		"resume_id", resumeID,
		"documents", len(documentRefs),
		"sections", len(sections))

	return sections, nil
}

// decodeSections keeps every section it can read and drops the rest.
// Extraction output is external input; one malformed section must not
// void an entire run.
func (e *HTTPExtractor) decodeSections(resumeID uuid.UUID, raw map[string]json.RawMessage) map[string]resume.Section {
	sections := make(map[string]resume.Section, len(raw))
	for sectionID, buf := range raw {
		if strings.HasPrefix(sectionID, "_") {
			continue
		}
		var sec resume.Section
		if err := json.Unmarshal(buf, &sec); err != nil {
			e.log.Warn("skipping unreadable extraction section",
				"resume_id", resumeID,
				"section", sectionID,
				"error", err)
			continue
		}
		if len(sec) == 0 {
			continue
		}
		sections[sectionID] = sec
	}
	return sections
}
