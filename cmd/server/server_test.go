package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genetica-tools/kinship-api/internal/cache"
	"github.com/genetica-tools/kinship-api/internal/middleware"
	"github.com/genetica-tools/kinship-api/internal/monitoring"
	"github.com/genetica-tools/kinship-api/internal/probability"
	"github.com/genetica-tools/kinship-api/internal/ratelimit"
	"github.com/genetica-tools/kinship-api/internal/reference"
)

type analyzeResponse struct {
	AnalysisID     string                  `json:"analysis_id"`
	SharedCM       float64                 `json:"shared_cm"`
	Candidates     []probability.Candidate `json:"candidates"`
	CandidateCount int                     `json:"candidate_count"`
	EndogamyLevel  string                  `json:"endogamy_level"`
	Summary        string                  `json:"summary"`
	Message        string                  `json:"message"`
}

// newTestRouter builds the full application against a temp copy of the
// shipped reference data, with Redis disabled so the limiter runs its
// in-memory fallback.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dataDir := t.TempDir()
	for _, name := range []string{"relationships.json", "distributions.json"} {
		raw, err := os.ReadFile(filepath.Join("..", "..", "data", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), raw, 0o644))
	}

	catalog, err := reference.LoadCatalog(dataDir)
	require.NoError(t, err)

	store, err := reference.NewStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background(), catalog))

	metrics := monitoring.NewMetrics()
	redisClient, err := ratelimit.NewRedisClient("", "", 0)
	require.NoError(t, err)

	app := &application{
		cfg:         config{DataDir: dataDir, RetentionDays: 365, CacheTTL: time.Minute},
		catalog:     catalog,
		store:       store,
		metrics:     metrics,
		logger:      monitoring.NewLogger(),
		cache:       cache.NewCache(time.Minute),
		limiter:     ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), metrics),
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
	}
	return setupRouter(app)
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), "body: %s", w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decodeJSON(t, w, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(9), body["profiles"])
}

func TestRootEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decodeJSON(t, w, &body)
	assert.Equal(t, "kinship-api", body["service"])
	assert.NotEmpty(t, body["endpoints"])
}

func TestRelationshipsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	t.Run("full catalog without filter", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/relationships", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Relationships []reference.Profile `json:"relationships"`
			Count         int                 `json:"count"`
		}
		decodeJSON(t, w, &body)
		assert.Equal(t, 9, body.Count)
		require.Len(t, body.Relationships, 9)
		assert.Equal(t, "FS", body.Relationships[0].Code, "catalog order preserved")
	})

	t.Run("filtered by shared amount", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/relationships?cm=850", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			SharedCM      float64             `json:"shared_cm"`
			Relationships []reference.Profile `json:"relationships"`
			Count         int                 `json:"count"`
		}
		decodeJSON(t, w, &body)
		assert.Equal(t, 850.0, body.SharedCM)

		codes := make([]string, 0, len(body.Relationships))
		for _, p := range body.Relationships {
			codes = append(codes, p.Code)
		}
		assert.ElementsMatch(t, []string{"1C", "HAU"}, codes)
	})

	t.Run("non-numeric filter", func(t *testing.T) {
		w := doRequest(router, http.MethodGet, "/api/relationships?cm=abc", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("out-of-domain filters", func(t *testing.T) {
		for _, cm := range []string{"0", "-5", "4500"} {
			w := doRequest(router, http.MethodGet, "/api/relationships?cm="+cm, "")
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "cm=%s", cm)
		}
	})
}

func TestHistogramEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/relationships/2C/histogram", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Code      string                      `json:"code"`
		Name      string                      `json:"name"`
		Histogram []reference.HistogramBucket `json:"histogram"`
	}
	decodeJSON(t, w, &body)
	assert.Equal(t, "2C", body.Code)
	assert.Equal(t, "Second Cousin", body.Name)
	assert.NotEmpty(t, body.Histogram)

	w = doRequest(router, http.MethodGet, "/api/relationships/ZZ/histogram", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndogamyHelpEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/endogamy/help", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Levels      []string                      `json:"levels"`
		Description string                        `json:"description"`
		Factors     map[string]map[string]float64 `json:"factors"`
	}
	decodeJSON(t, w, &body)
	assert.Len(t, body.Levels, 5)
	assert.NotEmpty(t, body.Description)
	require.Contains(t, body.Factors, "close")
	require.Contains(t, body.Factors, "distant")
	assert.Equal(t, 1.4, body.Factors["close"]["very_high"])
	assert.Equal(t, 2.0, body.Factors["distant"]["very_high"])
}

func TestAnalyzeKnownScenarios(t *testing.T) {
	router := newTestRouter(t)

	t.Run("full sibling amount is a sole certain candidate", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze",
			`{"shared_cm": 2730, "generation": "0", "sex": "M", "x_inheritance": true}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		require.Equal(t, 1, body.CandidateCount)
		assert.Equal(t, "FS", body.Candidates[0].Code)
		assert.InDelta(t, 1.0, body.Candidates[0].Probability, 1e-9)
		assert.NotEmpty(t, body.AnalysisID)
		assert.Contains(t, body.Summary, "Full Sibling")
	})

	t.Run("second cousin amount", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze",
			`{"shared_cm": 286.3, "generation": "2", "sex": "F", "x_inheritance": true, "segment_count": 14, "largest_segment_cm": 79.2}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		require.Equal(t, 1, body.CandidateCount)
		assert.Equal(t, "2C", body.Candidates[0].Code)
		assert.InDelta(t, 1.0, body.Candidates[0].Probability, 1e-9)
	})

	t.Run("distant amount ranks third cousin first", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 65.8}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		require.Equal(t, 3, body.CandidateCount)
		assert.Equal(t, "3C", body.Candidates[0].Code)
		assert.Equal(t, "4C", body.Candidates[1].Code)
		assert.Equal(t, "2C", body.Candidates[2].Code)
	})

	t.Run("distant amount with full evidence", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze",
			`{"shared_cm": 65.8, "generation": "3", "sex": "F", "x_inheritance": false, "segment_count": 5, "largest_segment_cm": 24.5}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		require.NotEmpty(t, body.Candidates)
		assert.Equal(t, "3C", body.Candidates[0].Code)
		assert.GreaterOrEqual(t, body.Candidates[0].Probability, 0.15)
	})

	t.Run("generation evidence reorders the ranking", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 1500}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		require.Equal(t, 3, body.CandidateCount)
		assert.Equal(t, "GP", body.Candidates[0].Code)

		w = doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 1500, "generation": "0"}`)
		require.Equal(t, http.StatusOK, w.Code)

		decodeJSON(t, w, &body)
		require.Equal(t, 3, body.CandidateCount)
		assert.Equal(t, "HS", body.Candidates[0].Code, "same-generation half sibling overtakes grandparent")
	})

	t.Run("endogamy adjustment widens the candidate set", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 700, "endogamy_level": "very_high"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var body analyzeResponse
		decodeJSON(t, w, &body)
		assert.Equal(t, "very_high", body.EndogamyLevel)
		require.Equal(t, 3, body.CandidateCount)

		codes := make([]string, 0, len(body.Candidates))
		for _, c := range body.Candidates {
			codes = append(codes, c.Code)
			assert.InDelta(t, 500.0, c.AdjustedCM, 1e-9, "700 / 1.4 close-relationship divisor")
		}
		assert.ElementsMatch(t, []string{"1C", "HAU", "2C"}, codes)
	})
}

func TestAnalyzeNormalization(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 1500}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body analyzeResponse
	decodeJSON(t, w, &body)
	require.NotEmpty(t, body.Candidates)

	sum := 0.0
	for i, c := range body.Candidates {
		sum += c.Probability
		if i > 0 {
			assert.LessOrEqual(t, c.Probability, body.Candidates[i-1].Probability)
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestAnalyzeNoCandidates(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 3900}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body analyzeResponse
	decodeJSON(t, w, &body)
	assert.Equal(t, 0, body.CandidateCount)
	assert.Empty(t, body.Candidates)
	assert.NotEmpty(t, body.Message)
}

func TestAnalyzeRejections(t *testing.T) {
	router := newTestRouter(t)

	semantic := []struct {
		name string
		body string
	}{
		{name: "zero shared cm", body: `{"shared_cm": 0}`},
		{name: "negative shared cm", body: `{"shared_cm": -100}`},
		{name: "shared cm above the domain", body: `{"shared_cm": 7000}`},
		{name: "unknown endogamy level", body: `{"shared_cm": 100, "endogamy_level": "extreme"}`},
		{name: "unknown sex", body: `{"shared_cm": 100, "sex": "Q"}`},
		{name: "negative segment count", body: `{"shared_cm": 100, "segment_count": -1}`},
	}

	for _, tt := range semantic {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/api/v1/analyze", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

			var body map[string]interface{}
			decodeJSON(t, w, &body)
			assert.Equal(t, "validation", body["category"])
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": `)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader("shared_cm=100"))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		padding := strings.Repeat(" ", 9*1024)
		w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 100`+padding+`}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecentAnalysesAfterAnalyze(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 2730}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/analyses/recent", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Analyses []reference.AnalysisRecord `json:"analyses"`
		Count    int                        `json:"count"`
	}
	decodeJSON(t, w, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "FS", body.Analyses[0].TopCode)
	assert.Equal(t, 1, body.Analyses[0].CandidateCount)
}

func TestAnalyzeResponseCache(t *testing.T) {
	router := newTestRouter(t)

	first := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 286.3}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(router, http.MethodPost, "/api/v1/analyze", `{"shared_cm": 286.3}`)
	require.Equal(t, http.StatusOK, second.Code)

	// Byte-identical replay, analysis_id included, proves the hit.
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(t)

	w := doRequest(router, http.MethodGet, "/api/relationships", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestOperationalEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/metrics", "/cache/stats", "/ratelimit/stats", "/pools/database", "/pools/compression"} {
		w := doRequest(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
