package app_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tb-go/internal/app"
	"tb-go/internal/config"
	"tb-go/internal/credentials"
	"tb-go/internal/finetune"
	"tb-go/internal/tb"
	"tb-go/internal/testutil"
)

const pageSize = 20

// blogServer serves one account's posts and accepts drafts. When failDraft
// is set, the draft request with that 1-based number fails.
type blogServer struct {
	records   []tb.Record
	failDraft int

	mu       sync.Mutex
	drafts   []string
	requests int
	infoHits int
}

func (s *blogServer) draftBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.drafts...)
}

func (s *blogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer access-1" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"meta":{"status":401,"msg":"Unauthorized"},"response":[]}`)
		return
	}
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	if r.URL.Path == "/v2/blog/staff/info" {
		s.mu.Lock()
		s.infoHits++
		first := s.infoHits == 1
		s.mu.Unlock()
		if first {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"meta":{"status":429,"msg":"Limit Exceeded"},"response":[]}`)
			return
		}
		fmt.Fprintf(w, `{"meta":{"status":200,"msg":"OK"},"response":{"blog":{"name":"staff","title":"Staff","posts":%d}}}`, len(s.records))
		return
	}
		if r.URL.Path != "/v2/blog/staff/posts" {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"meta":{"status":404,"msg":"Not Found"},"response":[]}`)
		return
	}

	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		attempt := len(s.drafts) + 1
		fail := attempt == s.failDraft
		if !fail {
			s.drafts = append(s.drafts, string(body))
		}
		s.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"meta":{"status":500,"msg":"Server Error"},"response":[]}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"meta":{"status":201,"msg":"Created"},"response":{"id":"555"}}`)
		return
	}

	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)
	var page []string
	for _, rec := range s.records {
		if before > 0 && rec.Post.Timestamp >= before {
			continue
		}
		if len(page) == pageSize {
			break
		}
		page = append(page, string(rec.Raw))
	}
	fmt.Fprintf(w, `{"meta":{"status":200,"msg":"OK"},"response":{"blog":{"posts":%d},"posts":[%s]}}`,
		len(s.records), strings.Join(page, ","))
}

// fakeOpenAI answers every call immediately.
type fakeOpenAI struct {
	jobReq openai.FineTuningJobRequest
}

func (f *fakeOpenAI) Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error) {
	return openai.ModerationResponse{Results: []openai.Result{{Flagged: strings.Contains(req.Input, "post 7")}}}, nil
}

func (f *fakeOpenAI) CreateFile(ctx context.Context, req openai.FileRequest) (openai.File, error) {
	return openai.File{ID: "file-1"}, nil
}

func (f *fakeOpenAI) CreateFineTuningJob(ctx context.Context, req openai.FineTuningJobRequest) (openai.FineTuningJob, error) {
	f.jobReq = req
	return openai.FineTuningJob{ID: "ftjob-1", Status: "queued", Model: req.Model}, nil
}

func (f *fakeOpenAI) RetrieveFineTuningJob(ctx context.Context, id string) (openai.FineTuningJob, error) {
	return openai.FineTuningJob{
		ID:              id,
		Status:          finetune.StatusSucceeded,
		FineTunedModel:  "ft:base:tb::1",
		Hyperparameters: openai.Hyperparameters{Epochs: float64(4)},
	}, nil
}

func (f *fakeOpenAI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  a fresh post  "}}},
	}, nil
}

type wordEncoder struct{}

func (wordEncoder) Count(text string) int { return len(strings.Fields(text)) }
func (wordEncoder) Encoding() string { return "words" }

func newTestConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("host-1", base)
	cfg.Accounts = []string{"staff"}
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Remote.BaseURL = srv.URL + "/v2/"
	cfg.Remote.TokenURL = srv.URL + "/v2/oauth2/token"
	cfg.Remote.AuthorizeURL = srv.URL + "/oauth2/authorize"
	cfg.Remote.ClientID = "client-id"
	cfg.Vaults = []config.VaultConfig{{Type: "memory", Name: "test"}}
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	cfg.Training.FineTunedModel = "ft:base:tb::1"
	cfg.Training.DraftAccount = "staff"

	store := credentials.NewFileStore(cfg.Credentials.Path)
	if err := store.Save(tb.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, api finetune.API) *app.TBApp {
	t.Helper()
	a, err := app.NewTBApp(cfg, "Test", app.WithEncoder(wordEncoder{}), app.WithOpenAI(api), app.WithConsole(io.Discard))
	if err != nil {
		t.Fatalf("NewTBApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	n := 0
	for s := bufio.NewScanner(f); s.Scan(); {
		n++
	}
	return n
}

func TestTBApp_EndToEnd(t *testing.T) {
	blog := &blogServer{records: testutil.TextRecords(25, 1700000000)}
	srv := httptest.NewServer(blog)
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv)
	api := &fakeOpenAI{}
	a := newTestApp(t, cfg, api)
	ctx := context.Background()

	results, err := a.Sync(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(results) != 1 || results[0].Fetched != 25 {
		t.Fatalf("results = %+v, want 25 fetched", results)
	}

	est, err := a.Estimate(nil)
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if est.Examples != 25 || est.Epochs != 4 {
		t.Errorf("estimate = %d examples %d epochs, want 25 and 4", est.Examples, est.Epochs)
	}

	written, err := a.WriteExamples(ctx, nil)
	if err != nil {
		t.Fatalf("WriteExamples() error = %v", err)
	}
	if written.Examples != 25 || countLines(t, cfg.Training.ExamplesPath) != 25 {
		t.Errorf("wrote %d examples, want 25", written.Examples)
	}

	job, started, err := a.StartTraining(ctx)
	if err != nil {
		t.Fatalf("StartTraining() error = %v", err)
	}
	if job.ID != "ftjob-1" || started.Epochs != 4 {
		t.Errorf("job = %+v, estimate epochs %d", job, started.Epochs)
	}
	if api.jobReq.Hyperparameters == nil || api.jobReq.Hyperparameters.Epochs != 4 {
		t.Errorf("Hyperparameters = %+v, want 4 epochs", api.jobReq.Hyperparameters)
	}

	done, err := a.WaitTraining(ctx, job.ID, nil)
	if err != nil {
		t.Fatalf("WaitTraining() error = %v", err)
	}
	if done.FineTunedModel != "ft:base:tb::1" {
		t.Errorf("FineTunedModel = %q", done.FineTunedModel)
	}

	drafts, err := a.Draft(ctx, "", 0, true)
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if len(drafts) != 1 || drafts[0].Text != "a fresh post" || drafts[0].ID != "555" {
		t.Errorf("Draft() = %+v, want one trimmed draft with id 555", drafts)
	}
	if bodies := blog.draftBodies(); len(bodies) != 1 || !strings.Contains(bodies[0], `"state":"draft"`) {
		t.Errorf("drafts = %v", bodies)
	}

	entries, err := a.Mirror(nil)
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Records != 25 {
		t.Errorf("entries = %+v, want staff with 25 records", entries)
	}

	restored, err := a.Restore(nil, "secret")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored["staff"] != 25 {
		t.Errorf("restored = %v, want staff:25", restored)
	}

	ops, err := a.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var kinds []string
	for _, op := range ops {
		kinds = append(kinds, op.Kind)
	}
	want := []string{tb.OperationRestore, tb.OperationMirror, tb.OperationDraft, tb.OperationSync}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("history kinds = %v, want %v", kinds, want)
	}
}

func TestTBApp_WriteExamplesModerated(t *testing.T) {
	srv := httptest.NewServer(&blogServer{records: testutil.TextRecords(10, 1700000000)})
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv)
	cfg.Training.Moderate = true
	a := newTestApp(t, cfg, &fakeOpenAI{})

	if _, err := a.Sync(context.Background(), nil, nil); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	est, err := a.WriteExamples(context.Background(), nil)
	if err != nil {
		t.Fatalf("WriteExamples() error = %v", err)
	}
	if est.Examples != 9 || est.Flagged != 1 {
		t.Errorf("estimate = %d examples %d flagged, want 9 and 1", est.Examples, est.Flagged)
	}
}

func TestTBApp_Errors(t *testing.T) {
	srv := httptest.NewServer(&blogServer{})
	t.Cleanup(srv.Close)

	t.Run("sync without accounts", func(t *testing.T) {
		cfg := newTestConfig(t, srv)
		cfg.Accounts = nil
		a := newTestApp(t, cfg, &fakeOpenAI{})
		if _, err := a.Sync(context.Background(), nil, nil); err == nil {
			t.Error("Sync() expected error without accounts")
		}
	})

	t.Run("estimate with an empty archive directory", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t, srv), &fakeOpenAI{})
		if _, err := a.Estimate(nil); err == nil {
			t.Error("Estimate() expected error without archives")
		}
	})

	t.Run("train without examples", func(t *testing.T) {
		a := newTestApp(t, newTestConfig(t, srv), &fakeOpenAI{})
		if _, _, err := a.StartTraining(context.Background()); err == nil {
			t.Error("StartTraining() expected error without an examples file")
		}
	})

	t.Run("draft without a tuned model", func(t *testing.T) {
		cfg := newTestConfig(t, srv)
		cfg.Training.FineTunedModel = ""
		a := newTestApp(t, cfg, &fakeOpenAI{})
		if _, err := a.Draft(context.Background(), "", 1, false); err == nil {
			t.Error("Draft() expected error without a fine-tuned model")
		}
	})

	t.Run("mirror without vaults", func(t *testing.T) {
		cfg := newTestConfig(t, srv)
		cfg.Vaults = nil
		a := newTestApp(t, cfg, &fakeOpenAI{})
		os.WriteFile(filepath.Join(cfg.Sync.ArchiveDir, "staff.jsonl"), nil, 0600)
		if _, err := a.Mirror(nil); err == nil {
			t.Error("Mirror() expected error without vaults")
		}
	})
}

func TestTBApp_Draft(t *testing.T) {
	t.Run("creates the configured number of drafts", func(t *testing.T) {
		blog := &blogServer{}
		srv := httptest.NewServer(blog)
		t.Cleanup(srv.Close)
		cfg := newTestConfig(t, srv)
		cfg.Training.DraftCount = 3
		a := newTestApp(t, cfg, &fakeOpenAI{})

		drafts, err := a.Draft(context.Background(), "", 0, true)
		if err != nil {
			t.Fatalf("Draft() error = %v", err)
		}
		if len(drafts) != 3 || len(blog.draftBodies()) != 3 {
			t.Errorf("drafts = %d, created = %d, want 3", len(drafts), len(blog.draftBodies()))
		}
	})

	t.Run("count overrides the configured number", func(t *testing.T) {
		srv := httptest.NewServer(&blogServer{})
		t.Cleanup(srv.Close)
		cfg := newTestConfig(t, srv)
		cfg.Training.DraftCount = 3
		a := newTestApp(t, cfg, &fakeOpenAI{})

		drafts, err := a.Draft(context.Background(), "", 2, false)
		if err != nil {
			t.Fatalf("Draft() error = %v", err)
		}
		if len(drafts) != 2 || drafts[1].ID != "" {
			t.Errorf("drafts = %+v, want two unpublished drafts", drafts)
		}
	})

	t.Run("failure reports the drafts already created", func(t *testing.T) {
		blog := &blogServer{failDraft: 2}
		srv := httptest.NewServer(blog)
		t.Cleanup(srv.Close)
		a := newTestApp(t, newTestConfig(t, srv), &fakeOpenAI{})

		drafts, err := a.Draft(context.Background(), "", 3, true)
		if err == nil || !strings.Contains(err.Error(), "generated 1 draft(s) before failing") {
			t.Fatalf("Draft() error = %v, want the number of drafts created", err)
		}
		if len(drafts) != 1 || drafts[0].ID != "555" {
			t.Errorf("drafts = %+v, want the first draft", drafts)
		}
		if bodies := blog.draftBodies(); len(bodies) != 1 {
			t.Errorf("created %d drafts, want 1", len(bodies))
		}

		ops, err := a.History(10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(ops) != 2 || ops[0].Status != tb.StatusError || ops[1].Status != tb.StatusSuccess {
			t.Errorf("ops = %+v, want one success then one failure", ops)
		}
	})
}

func TestTBApp_MissingCredential(t *testing.T) {
	blog := &blogServer{records: testutil.TextRecords(3, 1700000000)}
	srv := httptest.NewServer(blog)
	t.Cleanup(srv.Close)
	cfg := newTestConfig(t, srv)
	if err := os.Remove(cfg.Credentials.Path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	a := newTestApp(t, cfg, &fakeOpenAI{})

	if a.Authorized() {
		t.Error("Authorized() = true without a stored credential")
	}
	if _, err := a.Sync(context.Background(), nil, nil); !errors.Is(err, tb.ErrMissingCredential) {
		t.Errorf("Sync() error = %v, want ErrMissingCredential", err)
	}
	if _, err := a.Draft(context.Background(), "", 1, true); !errors.Is(err, tb.ErrMissingCredential) {
		t.Errorf("Draft() error = %v, want ErrMissingCredential", err)
	}
	if _, err := a.BlogInfo(context.Background(), "staff"); !errors.Is(err, tb.ErrMissingCredential) {
		t.Errorf("BlogInfo() error = %v, want ErrMissingCredential", err)
	}
	if blog.requests != 0 {
		t.Errorf("server saw %d requests, want none", blog.requests)
	}
	ops, _ := a.History(10)
	if len(ops) != 0 {
		t.Errorf("ops = %+v, want no recorded operations", ops)
	}
}

func TestTBApp_BlogInfo(t *testing.T) {
	blog := &blogServer{records: testutil.TextRecords(7, 1700000000)}
	srv := httptest.NewServer(blog)
	t.Cleanup(srv.Close)
	cfg := newTestConfig(t, srv)
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 10 * time.Millisecond
	a := newTestApp(t, cfg, &fakeOpenAI{})

	if !a.Authorized() {
		t.Fatal("Authorized() = false with a stored credential")
	}
	info, err := a.BlogInfo(context.Background(), "staff")
	if err != nil {
		t.Fatalf("BlogInfo() error = %v", err)
	}
	if info.Name != "staff" || info.Posts != 7 {
		t.Errorf("info = %+v, want staff with 7 posts", info)
	}
	// The first request is rate limited and retried.
	if blog.infoHits != 2 {
		t.Errorf("info requests = %d, want 2", blog.infoHits)
	}
}

func TestTBApp_AuthorizationURL(t *testing.T) {
	srv := httptest.NewServer(&blogServer{})
	t.Cleanup(srv.Close)
	a := newTestApp(t, newTestConfig(t, srv), &fakeOpenAI{})

	u, state, err := a.AuthorizationURL()
	if err != nil {
		t.Fatalf("AuthorizationURL() error = %v", err)
	}
	if state == "" || !strings.Contains(u, "state="+state) {
		t.Errorf("AuthorizationURL() = %q, state %q", u, state)
	}
	if !strings.HasPrefix(u, srv.URL+"/oauth2/authorize?") {
		t.Errorf("AuthorizationURL() = %q, want configured authorize endpoint", u)
	}
}

func TestTBApp_SetupKeys(t *testing.T) {
	srv := httptest.NewServer(&blogServer{})
	t.Cleanup(srv.Close)

	cfg := newTestConfig(t, srv)
	cfg.Encryption = config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(cfg.BaseDir, "keys", "tb.pub"),
		PrivateKeyPath: filepath.Join(cfg.BaseDir, "keys", "tb.key"),
	}
	a := newTestApp(t, cfg, &fakeOpenAI{})

	if err := a.SetupKeys("correct horse"); err != nil {
		t.Fatalf("SetupKeys() error = %v", err)
	}
	if _, err := os.Stat(cfg.Encryption.PrivateKeyPath); err != nil {
		t.Errorf("private key missing: %v", err)
	}
	if err := a.SetupKeys("correct horse"); err == nil {
		t.Error("SetupKeys() expected error when keys exist")
	}
}
