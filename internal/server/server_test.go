package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"hometrack/internal/app"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/events"
	"hometrack/internal/repo"
	"hometrack/internal/store"
)

func newTestServer(t *testing.T, secret string) (*httptest.Server, *app.Session) {
	t.Helper()
	ctx := context.Background()
	s, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), ActorID: "tester"})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	s.Now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	if _, err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	doc := &domain.Document{
		Tasks: []domain.Task{
			{ID: "demo", Name: "Demo kitchen", Status: domain.TaskCompleted, Category: "demolition"},
			{ID: "cabinets", Name: "Hang cabinets", Status: domain.TaskScheduled, Category: "carpentry",
				Start: "2026-05-20", End: "2026-05-25", Dependencies: []string{"demo"},
				Subtasks: []domain.Task{{ID: "cabinets-level", Name: "Level base units"}},
			},
		},
		Vendors: []domain.Vendor{{ID: "joe", Name: "Joe Carpentry", Trade: "carpentry"}},
	}
	if err := store.Save(s.DocumentPath(), doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	handler, err := New(Config{Session: s, BasePath: "/v0", Auth: AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return srv, s
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(`"ok"`)) {
		t.Fatalf("health = %d %s", res.StatusCode, data)
	}
}

func TestListAndGetTasks(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list TaskListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("items = %+v", list.Items)
	}
	sub := list.Items[2]
	if sub.ID != "cabinets-level" || sub.Parent != "cabinets" || sub.Status != domain.TaskScheduled || sub.Category != "carpentry" {
		t.Fatalf("subtask did not inherit: %+v", sub)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks?status=completed", nil, nil)
	if err := json.Unmarshal(data, &list); err != nil || res.StatusCode != http.StatusOK || len(list.Items) != 1 {
		t.Fatalf("filtered = %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/demo/dependents", nil, nil)
	var deps DependentsResponse
	if err := json.Unmarshal(data, &deps); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("dependents = %d %s", res.StatusCode, data)
	}
	if len(deps.Items) != 1 || deps.Items[0].ID != "cabinets" {
		t.Fatalf("dependents = %+v", deps)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/ghost", nil, nil)
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if res.StatusCode != http.StatusNotFound || env.Error.Code != "not_found" {
		t.Fatalf("missing task = %d %s", res.StatusCode, data)
	}
}

func TestDetectThenReviewAndAccept(t *testing.T) {
	srv, s := newTestServer(t, "")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/detect", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detect status %d: %s", res.StatusCode, data)
	}
	var result struct {
		Created    int      `json:"created"`
		CreatedIDs []string `json:"createdIds"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Created != 1 {
		t.Fatalf("detect = %s", data)
	}
	issueID := result.CreatedIDs[0]
	if issueID != "id-past-due-cabinets" {
		t.Fatalf("issue id = %s", issueID)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/answer", map[string]any{
		"response": map[string]any{"type": "date-range", "start": "2026-06-08", "end": "2026-06-10"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("answer status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/issues/"+issueID+"/review", nil, nil)
	if res.StatusCode != http.StatusOK || !bytes.Contains(data, []byte(`"changes"`)) {
		t.Fatalf("review = %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/accept", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, data)
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Tasks[1].Start != "2026-06-08" || doc.Tasks[1].End != "2026-06-10" {
		t.Fatalf("cabinets = %+v", doc.Tasks[1])
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/"+issueID+"/accept", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second accept = %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=issue", nil, nil)
	var evts EventListResponse
	if err := json.Unmarshal(data, &evts); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("events = %d %s", res.StatusCode, data)
	}
	if len(evts.Items) == 0 || evts.Items[0].Type != events.IssueAccepted {
		t.Fatalf("latest issue event = %+v", evts.Items)
	}

	runs, err := s.Repo().ListDetectionRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
}

func TestAcceptBlockedByImpactErrors(t *testing.T) {
	srv, s := newTestServer(t, "")
	client := srv.Client()
	err := s.Mutate(context.Background(), func(_ engine.Engine, doc *domain.Document) error {
		doc.Issues = append(doc.Issues, domain.Issue{
			ID: "q1", Type: domain.IssueDependency, Prompt: "What must happen first?", Status: domain.IssueAnswered,
			RelatedTask: "demo", Response: domain.DependencyResponse{TaskIDs: []string{"cabinets"}},
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/q1/accept", nil, nil)
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if res.StatusCode != http.StatusConflict || env.Error.Code != "blocked" || env.Error.Details["impacts"] == nil {
		t.Fatalf("blocked accept = %d %s", res.StatusCode, data)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	srv, s := newTestServer(t, "")
	client := srv.Client()
	err := s.Mutate(context.Background(), func(_ engine.Engine, doc *domain.Document) error {
		doc.Issues = append(doc.Issues, domain.Issue{
			ID: "q1", Type: domain.IssueFreeText, Prompt: "Cabinet finish?", Status: domain.IssueAnswered,
			RelatedTask: "cabinets", Response: domain.FreeTextResponse{Text: "oak"},
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/q1/reject", map[string]any{"reason": "  "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank reason = %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/q1/reject", map[string]any{"reason": "we chose maple"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject = %d %s", res.StatusCode, data)
	}
	evts, err := s.Repo().LatestEvents(context.Background(), repo.EventFilters{Type: events.IssueRejected})
	if err != nil || len(evts) != 1 || evts[0].EntityID != "q1" {
		t.Fatalf("events = %+v, %v", evts, err)
	}
}

func TestMutationsRequireTokenWhenSecretSet(t *testing.T) {
	srv, s := newTestServer(t, "s3cret")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reads should stay open: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/detect", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated detect = %d %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/detect", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token = %d", res.StatusCode)
	}

	token, err := SignToken("s3cret", "partner", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/detect", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized detect = %d %s", res.StatusCode, data)
	}
	evts, err := s.Repo().LatestEvents(context.Background(), repo.EventFilters{Type: events.DetectionRun})
	if err != nil || len(evts) != 1 || evts[0].ActorID != "partner" {
		t.Fatalf("detection attributed to %+v, %v", evts, err)
	}
}

func TestValidationEndpoint(t *testing.T) {
	srv, s := newTestServer(t, "")
	raw, err := os.ReadFile(s.DocumentPath())
	if err != nil {
		t.Fatal(err)
	}
	broken := bytes.Replace(raw, []byte(`"demo"`), []byte(`"cabinets"`), 1)
	if err := os.WriteFile(s.DocumentPath(), broken, 0o644); err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/validation", nil, nil)
	var report app.ValidationReport
	if err := json.Unmarshal(data, &report); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("validation = %d %s", res.StatusCode, data)
	}
	if report.OK() {
		t.Fatalf("duplicate id not reported: %s", data)
	}
}

func TestGetEvent(t *testing.T) {
	srv, _ := newTestServer(t, "")
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events/1", nil, nil)
	var evt domain.Event
	if err := json.Unmarshal(data, &evt); err != nil || res.StatusCode != http.StatusOK || evt.Type != events.DocumentSaved {
		t.Fatalf("event = %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events/999", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing event = %d %s", res.StatusCode, data)
	}
}

func TestAnswerRejectsMalformedResponse(t *testing.T) {
	srv, s := newTestServer(t, "")
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/detect", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detect status %d: %s", res.StatusCode, data)
	}
	for _, resp := range []map[string]any{
		{"type": "date-range", "start": "01/15/2026", "end": "2026-00-01"},
		{"type": "date-range", "start": "2026-06-10", "end": "2026-06-08"},
	} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/issues/id-past-due-cabinets/answer", map[string]any{"response": resp}, nil)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("answer %v = %d %s", resp, res.StatusCode, data)
		}
	}
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, is := range doc.Issues {
		if is.Status != domain.IssueOpen || is.Response != nil {
			t.Fatalf("malformed answer stored: %+v", is)
		}
	}
}
