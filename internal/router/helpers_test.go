package router

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
	"github.com/set-night/tasker/internal/router/middleware"
	"github.com/set-night/tasker/internal/service"
	"github.com/set-night/tasker/internal/storage"
)

var testSecret = []byte("test-secret")

// 1x1 transparent PNG.
var tinyPNG, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

type recordingFeed struct {
	mu            sync.Mutex
	registrations []int64
	submissions   []int64
	withdrawals   []int64
}

func (f *recordingFeed) LogRegistration(user *domain.User, _ *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, user.ID)
}

func (f *recordingFeed) LogSubmission(lease *domain.Lease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, lease.ID)
}

func (f *recordingFeed) LogWithdrawalRequest(req *domain.WithdrawalRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, req.ID)
}

type harness struct {
	router   *HttpRouter
	store    repository.Store
	tasks    *service.TaskService
	verdicts *service.VerdictService
	feed     *recordingFeed
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	rules := config.DefaultRules()
	cfg := &config.Config{
		JWTSecret:   string(testSecret),
		MaxFileSize: 1 << 20,
		BotUsername: "tasker_test_bot",
		Rules:       rules,
	}
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	files, err := storage.NewFileStore(t.TempDir(), int64(cfg.MaxFileSize), logger)
	require.NoError(t, err)

	reclaim := service.NewReclaimService(store, rules, files, m, logger)
	h := &harness{
		store:    store,
		tasks:    service.NewTaskService(store, rules, logger),
		verdicts: service.NewVerdictService(store, rules, m, logger),
		feed:     &recordingFeed{},
	}
	h.router = CreateRouter(Deps{
		Cfg:         cfg,
		Users:       service.NewUserService(store, cfg, logger),
		Leases:      service.NewLeaseService(store, rules, reclaim, m, logger),
		Submissions: service.NewSubmissionService(store, m, logger),
		Withdrawals: service.NewWithdrawalService(store, rules, m, logger),
		Files:       files,
		Feed:        h.feed,
		Gatherer:    reg,
		Logger:      logger,
	})
	return h
}

func token(t *testing.T, userID int64) string {
	t.Helper()
	s, err := middleware.NewToken(testSecret, userID, nil)
	require.NoError(t, err)
	return s
}

// do sends a JSON request as userID; userID 0 sends no token.
func (h *harness) do(t *testing.T, method, path string, userID int64, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return h.send(t, req, userID)
}

func (h *harness) upload(t *testing.T, leaseID, userID int64, name string, data []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, leasePath(leaseID, "attachments"), &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return h.send(t, req, userID)
}

func (h *harness) send(t *testing.T, req *http.Request, userID int64) (*http.Response, []byte) {
	t.Helper()
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	resp, err := h.router.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (h *harness) register(t *testing.T, userID int64, referrer *int64) {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/v1/auth/register", userID, registerRequest{Username: "user", FirstName: "Ivan", ReferrerID: referrer})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.StatusCode, string(body))
}

func (h *harness) task(t *testing.T, kind domain.TaskKind) *domain.Task {
	t.Helper()
	task, err := h.tasks.CreateTask(context.Background(), kind, "https://www.avito.ru/item/1", "hello")
	require.NoError(t, err)
	return task
}

func (h *harness) credit(t *testing.T, userID, earnings int64) {
	t.Helper()
	require.NoError(t, h.store.InTx(context.Background(), func(q repository.Querier) error {
		return q.AddEarnings(context.Background(), userID, earnings)
	}))
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	return decode[errorBody](t, body).Code
}

func leasePath(id int64, action string) string {
	p := "/api/v1/leases/" + itoa(id)
	if action != "" {
		p += "/" + action
	}
	return p
}
