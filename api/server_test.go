package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
	"github.com/roxie-moxie/moxie-buildings-sub000/storage"
)

type gatedRunner struct {
	gate chan struct{}
}

func (g *gatedRunner) RunSource(ctx context.Context, id int64) (models.RunOutcome, error) {
	<-g.gate
	return models.RunOutcome{SourceID: id, Status: models.RunStatusSuccess, UnitCount: 3}, nil
}

type testEnv struct {
	srv    *httptest.Server
	store  *storage.SQLiteStore
	jobs   *services.Jobs
	runner *gatedRunner
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	store.SyncSources(ctx, []models.SourceRecord{
		{Name: "The Astor", URL: "https://astor.example.com", Neighborhood: "Gold Coast", StrategyID: "funnel"},
		{Name: "Clark Tower", URL: "https://clark.example.com", Neighborhood: "River North", StrategyID: "llm"},
	})
	now := time.Now()
	mark := func(prev models.SourceState) models.SourceState {
		prev.LastRunStatus = models.RunStatusSuccess
		prev.LastRunAt = &now
		return prev
	}
	store.CommitRun(ctx, models.RunCommit{SourceID: 1, RunAt: now, Succeeded: true, Units: []models.Unit{
		{SourceID: 1, UnitLabel: "101", BedType: "1BR", RentCents: 190000, AvailabilityDate: now.Format("2006-01-02"), CapturedAt: now},
		{SourceID: 1, UnitLabel: "201", BedType: "2BR", RentCents: 280000, AvailabilityDate: now.AddDate(0, 0, 30).Format("2006-01-02"), CapturedAt: now},
	}}, mark)
	store.CommitRun(ctx, models.RunCommit{SourceID: 2, RunAt: now, Succeeded: true, Units: []models.Unit{
		{SourceID: 2, UnitLabel: "9C", BedType: "1BR", RentCents: 240000, AvailabilityDate: now.Format("2006-01-02"), CapturedAt: now},
	}}, mark)

	runner := &gatedRunner{gate: make(chan struct{})}
	jobs := services.NewJobs(ctx, runner)
	s := NewServer(services.NewUnitService(store), jobs, store, services.NewHealthService(store), store)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, jobs: jobs, runner: runner}
}

func getJSON(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func post(t *testing.T, url string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
}

type unitsResponse struct {
	Count int               `json:"count"`
	Units []models.UnitView `json:"units"`
}

func TestUnitSearch(t *testing.T) {
	env := newEnv(t)

	var res unitsResponse
	getJSON(t, env.srv.URL+"/units", http.StatusOK, &res)
	if res.Count != 3 {
		t.Fatalf("count = %d, want 3", res.Count)
	}

	getJSON(t, env.srv.URL+"/units?bed_type=1BR&rent_max=2000", http.StatusOK, &res)
	if res.Count != 1 || res.Units[0].UnitLabel != "101" || res.Units[0].SourceName != "The Astor" {
		t.Fatalf("filtered = %+v", res)
	}

	cutoff := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	getJSON(t, env.srv.URL+"/units?available_before="+cutoff+"&neighborhood=Gold+Coast,River+North", http.StatusOK, &res)
	if res.Count != 2 {
		t.Fatalf("date filtered count = %d, want 2", res.Count)
	}

	getJSON(t, env.srv.URL+"/units?rent_min=3000&rent_max=2000", http.StatusBadRequest, nil)
	getJSON(t, env.srv.URL+"/units?available_before=next+week", http.StatusBadRequest, nil)
	getJSON(t, env.srv.URL+"/units?rent_min=abc", http.StatusBadRequest, nil)
}

func TestRunNowLifecycle(t *testing.T) {
	env := newEnv(t)

	var job models.Job
	post(t, env.srv.URL+"/sources/1/run", http.StatusAccepted, &job)
	if job.ID == "" || job.SourceID != 1 {
		t.Fatalf("job = %+v", job)
	}

	var conflict struct {
		Job models.Job `json:"job"`
	}
	post(t, env.srv.URL+"/sources/1/run", http.StatusConflict, &conflict)
	if conflict.Job.ID != job.ID {
		t.Fatalf("conflict job = %s, want %s", conflict.Job.ID, job.ID)
	}

	close(env.runner.gate)
	env.jobs.Wait()

	var done models.Job
	getJSON(t, env.srv.URL+"/jobs/"+job.ID, http.StatusOK, &done)
	if done.Status != models.JobSuccess || done.UnitCount == nil || *done.UnitCount != 3 {
		t.Fatalf("finished job = %+v", done)
	}

	getJSON(t, env.srv.URL+"/jobs/nope", http.StatusNotFound, nil)
	post(t, env.srv.URL+"/sources/99/run", http.StatusNotFound, nil)
	post(t, env.srv.URL+"/sources/abc/run", http.StatusBadRequest, nil)
}

func TestRunsAndHealth(t *testing.T) {
	env := newEnv(t)

	var runs []models.ScrapeRun
	getJSON(t, env.srv.URL+"/runs?source_id=1", http.StatusOK, &runs)
	if len(runs) != 1 || runs[0].UnitCount != 2 {
		t.Fatalf("runs = %+v", runs)
	}

	var report services.HealthReport
	getJSON(t, env.srv.URL+"/health", http.StatusOK, &report)
	if report.Active != 2 || len(report.Failing) != 0 {
		t.Fatalf("report = %+v", report)
	}
	getJSON(t, env.srv.URL+"/health?stale_hours=-1", http.StatusBadRequest, nil)
}

func TestCommandEndpoints(t *testing.T) {
	env := newEnv(t)

	post(t, env.srv.URL+"/batch", http.StatusAccepted, nil)
	post(t, env.srv.URL+"/pause", http.StatusAccepted, nil)

	cmds, err := env.store.GetPendingCommands(context.Background())
	if err != nil {
		t.Fatalf("GetPendingCommands: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Command != models.CmdScrapeNow || cmds[1].Command != models.CmdPause {
		t.Fatalf("commands = %+v", cmds)
	}

	var logs []models.ScrapeLog
	getJSON(t, env.srv.URL+"/logs", http.StatusOK, &logs)
}
