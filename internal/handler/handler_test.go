package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/middleware"
	"github.com/set-night/tasker/internal/repository"
	"github.com/set-night/tasker/internal/service"
	"github.com/set-night/tasker/internal/storage"
)

const adminID = 100

// 1x1 transparent PNG.
var tinyPNG, _ = base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

type apiCall struct {
	method string
	fields map[string]string
}

// fakeAPI answers Bot API calls and records them.
type fakeAPI struct {
	mu    sync.Mutex
	calls []apiCall
	srv   *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)
	fields := map[string]string{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
			for k := range r.MultipartForm.File {
				fields[k] = "<file>"
			}
		}
	} else {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		if json.Unmarshal(body, &m) == nil {
			for k, v := range m {
				fields[k] = fmt.Sprint(v)
			}
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, fields: fields})
	n := len(f.calls)
	f.mu.Unlock()

	var result any
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "tasker", "username": "tasker_test_bot"}
	case "answerCallbackQuery":
		result = true
	default:
		chatID, _ := strconv.ParseInt(fields["chat_id"], 10, 64)
		result = map[string]any{"message_id": n, "date": 0, "chat": map[string]any{"id": chatID, "type": "private"}}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeAPI) sent(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// textsTo returns message texts sent to chatID.
func (f *fakeAPI) textsTo(chatID int64) []string {
	var out []string
	for _, c := range f.sent("sendMessage") {
		if c.fields["chat_id"] == strconv.FormatInt(chatID, 10) {
			out = append(out, c.fields["text"])
		}
	}
	return out
}

type fixture struct {
	api         *fakeAPI
	bot         *bot.Bot
	h           *Handler
	store       repository.Store
	files       *storage.FileStore
	users       *service.UserService
	leases      *service.LeaseService
	submissions *service.SubmissionService
	withdrawals *service.WithdrawalService
	tasks       *service.TaskService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := newFakeAPI(t)
	b, err := bot.New("1:test", bot.WithServerURL(api.srv.URL))
	require.NoError(t, err)

	rules := config.DefaultRules()
	cfg := &config.Config{AdminIDs: []int64{adminID}, BotUsername: "tasker_test_bot", Rules: rules}
	logger := zap.NewNop()
	store := repository.NewMemoryStore()
	m := metrics.NewNop()
	files, err := storage.NewFileStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)

	f := &fixture{
		api:         api,
		bot:         b,
		store:       store,
		files:       files,
		users:       service.NewUserService(store, cfg, logger),
		submissions: service.NewSubmissionService(store, m, logger),
		withdrawals: service.NewWithdrawalService(store, rules, m, logger),
		tasks:       service.NewTaskService(store, rules, logger),
	}
	f.leases = service.NewLeaseService(store, rules, service.NewReclaimService(store, rules, files, m, logger), m, logger)
	f.h = New(Deps{
		Bot:               b,
		Cfg:               cfg,
		UserService:       f.users,
		TaskService:       f.tasks,
		SubmissionService: f.submissions,
		VerdictService:    service.NewVerdictService(store, rules, m, logger),
		WithdrawalService: f.withdrawals,
		Files:             files,
		Logger:            logger,
	})
	return f
}

func (f *fixture) user(t *testing.T, id int64, referrer *int64) {
	t.Helper()
	_, _, err := f.users.Register(context.Background(), service.RegisterParams{ID: id, FirstName: "Ivan", ReferrerID: referrer})
	require.NoError(t, err)
}

// submitted leases a task of kind for userID and submits it with one screenshot.
func (f *fixture) submitted(t *testing.T, userID int64) *domain.Lease {
	t.Helper()
	ctx := context.Background()
	_, err := f.tasks.CreateTask(ctx, domain.TaskKindSimple, "https://www.avito.ru/item/1", "hello")
	require.NoError(t, err)
	lease, err := f.leases.RequestLease(ctx, userID, domain.TaskKindSimple)
	require.NoError(t, err)
	ref, err := f.files.Save(lease.AttachmentPrefix(), bytes.NewReader(tinyPNG))
	require.NoError(t, err)
	lease, err = f.submissions.Submit(ctx, service.SubmitParams{LeaseID: lease.ID, UserID: userID, Attachments: []string{ref}})
	require.NoError(t, err)
	return lease
}

func (f *fixture) getUser(t *testing.T, id int64) *domain.User {
	t.Helper()
	u, err := f.users.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func command(from int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		Text: text,
		Chat: models.Chat{ID: from, Type: "private"},
		From: &models.User{ID: from, FirstName: "Admin"},
	}}
}

func callback(from int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb",
		From: models.User{ID: from},
		Data: data,
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{Chat: models.Chat{ID: from, Type: "private"}},
		},
	}}
}

func TestApproveCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := int64(2)
	f.user(t, 2, nil)
	f.user(t, 1, &ref)
	lease := f.submitted(t, 1)

	f.h.handleApprove(ctx, f.bot, command(adminID, "/approve "+strconv.FormatInt(lease.ID, 10)))

	assert.Equal(t, int64(50), f.getUser(t, 1).EarningsBalance)
	assert.Equal(t, int64(25), f.getUser(t, 2).ReferralBalance)

	require.Len(t, f.api.textsTo(adminID), 1)
	assert.Contains(t, f.api.textsTo(adminID)[0], "принято, начислено 50")
	require.Len(t, f.api.textsTo(1), 1)
	assert.Contains(t, f.api.textsTo(1)[0], "принято")
	require.Len(t, f.api.textsTo(2), 1)
	assert.Contains(t, f.api.textsTo(2)[0], "25")

	f.h.handleApprove(ctx, f.bot, command(adminID, "/approve "+strconv.FormatInt(lease.ID, 10)))
	assert.Equal(t, int64(50), f.getUser(t, 1).EarningsBalance)
	assert.Contains(t, f.api.textsTo(adminID)[1], "уже рассмотрено")

	f.h.handleApprove(ctx, f.bot, command(adminID, "/approve"))
	assert.Contains(t, f.api.textsTo(adminID)[2], "Использование: /approve")
}

func TestLeaseVerdictCallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1, nil)
	lease := f.submitted(t, 1)

	f.h.handleLeaseVerdictCallback(ctx, f.bot, callback(adminID, fmt.Sprintf("lv_reject_%d", lease.ID)))

	answers := f.api.sent("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].fields["text"], "отклонено")
	assert.Zero(t, f.getUser(t, 1).EarningsBalance)

	got, err := f.leases.GetLease(ctx, lease.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.LeaseStateRejected, got.State)
	assert.Equal(t, lease.Attachments, got.Attachments)
}

func TestAdminGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1, nil)
	lease := f.submitted(t, 1)

	gated := middleware.AdminOnly(f.h.cfg)(f.h.handleLeaseVerdictCallback)
	gated(ctx, f.bot, callback(7, fmt.Sprintf("lv_approve_%d", lease.ID)))

	answers := f.api.sent("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "Недостаточно прав", answers[0].fields["text"])
	assert.Zero(t, f.getUser(t, 1).EarningsBalance)
}

func TestPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.h.handlePending(ctx, f.bot, command(adminID, "/pending"))
	require.Len(t, f.api.textsTo(adminID), 1)
	assert.Contains(t, f.api.textsTo(adminID)[0], "Нет заданий")

	f.user(t, 1, nil)
	lease := f.submitted(t, 1)
	f.h.handlePending(ctx, f.bot, command(adminID, "/pending"))

	msgs := f.api.sent("sendMessage")
	last := msgs[len(msgs)-1]
	assert.Contains(t, last.fields["reply_markup"], fmt.Sprintf("lv_approve_%d", lease.ID))
	photos := f.api.sent("sendPhoto")
	require.Len(t, photos, 1)
	assert.Equal(t, "<file>", photos[0].fields["photo"])
}

func TestWithdrawalCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, 1, nil)
	require.NoError(t, f.store.InTx(ctx, func(q repository.Querier) error {
		return q.AddEarnings(ctx, 1, 300)
	}))
	req, err := f.withdrawals.RequestWithdrawal(ctx, service.WithdrawalParams{
		UserID:  1,
		Amount:  200,
		Method:  domain.PayoutMethodCard,
		Details: json.RawMessage(`{"card_number":"1234 5678 9012 3456","cardholder_name":"IVAN PETROV"}`),
	})
	require.NoError(t, err)

	f.h.handleWithdrawals(ctx, f.bot, command(adminID, "/withdrawals"))
	msgs := f.api.sent("sendMessage")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].fields["reply_markup"], fmt.Sprintf("wv_approve_%d", req.ID))

	f.h.handleWithdrawalApprove(ctx, f.bot, command(adminID, fmt.Sprintf("/wapprove %d", req.ID)))
	assert.Equal(t, int64(100), f.getUser(t, 1).EarningsBalance)
	assert.Contains(t, f.api.textsTo(1)[0], "200")

	f.h.handleWithdrawalVerdictCallback(ctx, f.bot, callback(adminID, fmt.Sprintf("wv_reject_%d", req.ID)))
	answers := f.api.sent("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].fields["text"], "уже рассмотрена")
}

func TestAddTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.h.handleAddTask(ctx, f.bot, command(adminID, "/addtask phone https://www.avito.ru/item/9 Здравствуйте, ещё актуально?"))
	require.Len(t, f.api.textsTo(adminID), 1)
	assert.Contains(t, f.api.textsTo(adminID)[0], "добавлено, оплата 150")

	counts, err := f.tasks.CountAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.TaskKindPhone])

	f.user(t, 1, nil)
	lease, err := f.leases.RequestLease(ctx, 1, domain.TaskKindPhone)
	require.NoError(t, err)
	assert.Equal(t, "Здравствуйте, ещё актуально?", lease.Task.MessageText)

	f.h.handleAddTask(ctx, f.bot, command(adminID, "/addtask video https://www.avito.ru/item/9 hi"))
	assert.Contains(t, f.api.textsTo(adminID)[1], "Неизвестный тип")

	f.h.handleAddTask(ctx, f.bot, command(adminID, "/addtask simple not-a-url hi"))
	assert.Contains(t, f.api.textsTo(adminID)[2], "Некорректная ссылка")

	f.h.handleAddTask(ctx, f.bot, command(adminID, "/addtask simple"))
	assert.Contains(t, f.api.textsTo(adminID)[3], "Использование")
}

func TestStartAndReferral(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := int64(2)
	f.user(t, 2, nil)
	f.user(t, 1, &ref)

	f.h.handleStart(middleware.WithUser(ctx, f.getUser(t, 1)), f.bot, command(1, "/start ref_2"))
	require.Len(t, f.api.textsTo(1), 1)
	assert.Contains(t, f.api.textsTo(1)[0], "Вас пригласил пользователь `2`")

	f.h.handleReferral(middleware.WithUser(ctx, f.getUser(t, 2)), f.bot, command(2, "/referral"))
	photos := f.api.sent("sendPhoto")
	require.Len(t, photos, 1)
	assert.Contains(t, photos[0].fields["caption"], "start=ref_2")
	assert.Contains(t, photos[0].fields["caption"], "Приглашено: *1*")
	assert.Contains(t, photos[0].fields["caption"], "50%")

	f.h.handleBalance(ctx, f.bot, command(3, "/balance"))
	assert.Empty(t, f.api.textsTo(3))
}

func TestCommandID(t *testing.T) {
	id, ok := commandID("/approve 12")
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	for _, text := range []string{"/approve", "/approve x", "/approve 0", "/approve 1 2"} {
		_, ok := commandID(text)
		assert.False(t, ok, text)
	}
}
