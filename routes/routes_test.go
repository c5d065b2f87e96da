package routes

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugb/survey-backend/app"
	"github.com/sugb/survey-backend/database"
	"github.com/sugb/survey-backend/form"
	"github.com/sugb/survey-backend/queue"
	"github.com/sugb/survey-backend/report"
	"github.com/sugb/survey-backend/routes/middlewares"
)

const testToken = "test-token"

var testSchemaJSON = []byte(`{
	"sections": [
		{
			"id": "organization",
			"name": "Organization",
			"order": 1,
			"questions": [
				{"id": "organization_name", "text": "Name", "type": "TEXT", "order": 1, "isRequired": true},
				{"id": "gross_salary", "text": "Salary", "type": "MONEY", "order": 2, "isRequired": true, "validation": {"min": 0}}
			]
		}
	]
}`)

func newTestServer(t *testing.T) (*httptest.Server, app.App) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := form.ParseSchema(testSchemaJSON)
	require.NoError(t, err)

	renderer := report.NewRenderer(report.NewSQLResponseSource(db), report.NewFSStore(t.TempDir()))
	q := queue.New(queue.NewSQLStore(db), renderer, queue.WithJobDelay(0))

	a := app.App{
		DB:       db,
		Schema:   schema,
		Queue:    q,
		Renderer: renderer,
		Sessions: middlewares.TokenVerifier{Token: testToken, DefaultUserID: "local-user"},
	}

	server := httptest.NewServer(Wire(a))
	t.Cleanup(server.Close)
	return server, a
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRequestsWithoutSessionAreRejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/survey")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/survey", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetSurveyWithoutDraft(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/survey", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Empty(t, body["surveyResponseId"])
	assert.NotNil(t, body["schema"])
	assert.EqualValues(t, 0, body["progress"])
}

func TestSaveAndReloadDraft(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"responses": map[string]any{"organization_name": "Gemeente Voorbeeld"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody(t, resp)
	responseID, _ := saved["surveyResponseId"].(string)
	require.NotEmpty(t, responseID)

	// saving again must reuse the active draft, not spawn a second one
	resp = doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"responses": map[string]any{
			"organization_name": "Gemeente Voorbeeld",
			"gross_salary":      "4250",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved = decodeBody(t, resp)
	assert.Equal(t, responseID, saved["surveyResponseId"])

	resp = doJSON(t, http.MethodGet, server.URL+"/api/survey", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, responseID, body["surveyResponseId"])
	assert.EqualValues(t, 100, body["progress"])

	answers, ok := body["responses"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Gemeente Voorbeeld", answers["organization_name"])
}

func TestSaveRejectsMissingResponses(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"isComplete": true,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompleteSubmissionIsValidated(t *testing.T) {
	server, _ := newTestServer(t)

	// missing required salary
	resp := doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"responses":  map[string]any{"organization_name": "Gemeente Voorbeeld"},
		"isComplete": true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decodeBody(t, resp)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "gross_salary")

	// a valid submission goes through
	resp = doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"responses": map[string]any{
			"organization_name": "Gemeente Voorbeeld",
			"gross_salary":      "4250",
		},
		"isComplete": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeBody(t, resp)
	assert.Equal(t, "Survey submitted successfully", saved["message"])
}

func TestPDFGenerationFlow(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/survey/save", map[string]any{
		"responses": map[string]any{
			"organization_name": "Gemeente Voorbeeld",
			"gross_salary":      "4250",
		},
		"isComplete": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	responseID := decodeBody(t, resp)["surveyResponseId"].(string)

	resp = doJSON(t, http.MethodPost, server.URL+"/api/pdf/generate", map[string]any{
		"surveyResponseId": responseID,
		"options":          map[string]any{"format": "A4"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobID, _ := decodeBody(t, resp)["jobId"].(string)
	require.NotEmpty(t, jobID)

	// rendering runs in the background; poll the status endpoint
	var status map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = doJSON(t, http.MethodGet, server.URL+"/api/pdf/status/"+jobID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status = decodeBody(t, resp)
		if status["status"] == "completed" || status["status"] == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never finished: %v", jobID, status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, "completed", status["status"])

	pdfURL, _ := status["pdfUrl"].(string)
	require.True(t, strings.HasPrefix(pdfURL, "/api/pdf/download/"), "unexpected locator %q", pdfURL)

	resp = doJSON(t, http.MethodGet, server.URL+pdfURL, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	head := make([]byte, 4)
	_, err := io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestGeneratePDFUnknownResponse(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/pdf/generate", map[string]any{
		"surveyResponseId": "d2b7e9f4-8f1a-4c3e-a111-223344556677",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGeneratePDFRejectsForeignResponse(t *testing.T) {
	server, a := newTestServer(t)

	_, err := a.ExecContext(context.Background(), `
		INSERT INTO survey_responses (id, user_id, responses, status)
		VALUES (?, 'someone-else', '{}', 'completed')`,
		"a4f0c7d2-3b5e-4f6a-8c9d-001122334455",
	)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/pdf/generate", map[string]any{
		"surveyResponseId": "a4f0c7d2-3b5e-4f6a-8c9d-001122334455",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPDFStatusUnknownJob(t *testing.T) {
	server, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, server.URL+"/api/pdf/status/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadRejectsBadNames(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/pdf/download/report.txt", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/pdf/download/unknown.pdf", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
