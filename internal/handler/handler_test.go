package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/goaltracker/internal/coach"
	"github.com/mmeshcher/goaltracker/internal/lifecycle"
	"github.com/mmeshcher/goaltracker/internal/middleware"
	"github.com/mmeshcher/goaltracker/internal/model"
	"github.com/mmeshcher/goaltracker/internal/payment"
	"github.com/mmeshcher/goaltracker/internal/repository"
	"github.com/mmeshcher/goaltracker/internal/service"
	"github.com/mmeshcher/goaltracker/internal/validation"
)

type stubService struct {
	account    *model.Account
	accountErr error

	task    *model.Task
	taskErr error

	suggestion string
	suggestErr error
}

func (s *stubService) RegisterAccount(ctx context.Context, d model.AccountDraft) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) GetAccount(ctx context.Context, callerID, id int64) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) UpdateAccount(ctx context.Context, callerID, id int64, p model.AccountPatch) (*model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) DeleteAccount(ctx context.Context, callerID, id int64) error {
	return s.accountErr
}

func (s *stubService) MakePayment(ctx context.Context, callerID, accountID int64, amount decimal.Decimal, description string) (*model.Account, *model.Transaction, error) {
	return s.account, &model.Transaction{Amount: amount.Neg(), Type: model.TransactionPayment}, s.accountErr
}

func (s *stubService) CreateTask(ctx context.Context, callerID int64, d model.TaskDraft) (*model.Task, error) {
	return s.task, s.taskErr
}

func (s *stubService) GetTask(ctx context.Context, callerID int64, id uuid.UUID) (*model.Task, error) {
	return s.task, s.taskErr
}

func (s *stubService) GetTasksByUser(ctx context.Context, callerID, userID int64) ([]model.Task, error) {
	return nil, s.taskErr
}

func (s *stubService) UpdateTask(ctx context.Context, callerID int64, id uuid.UUID, p model.TaskPatch) (*model.Task, error) {
	return s.task, s.taskErr
}

func (s *stubService) DeleteTask(ctx context.Context, callerID int64, id uuid.UUID) error {
	return s.taskErr
}

func (s *stubService) DeleteTasksByUser(ctx context.Context, callerID, userID int64) (int64, error) {
	return 0, s.taskErr
}

func (s *stubService) GetStreak(ctx context.Context, callerID int64) (model.Streak, error) {
	return model.Streak{}, nil
}

func (s *stubService) Suggest(ctx context.Context, prompt string) (string, error) {
	return s.suggestion, s.suggestErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, "")
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestCreateAccount_SetsCookie(t *testing.T) {
	svc := &stubService{
		account: &model.Account{ID: 42, Username: "alice", Balance: decimal.NewFromInt(100), PasswordHash: []byte("hash")},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(model.AccountDraft{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	req := httptest.NewRequest(http.MethodPost, "/api/account", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateAccount(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie was not set")
	}
	assert.NotContains(t, rec.Body.String(), "hash")
	assert.Contains(t, rec.Body.String(), `"balance":100`)
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	svc := &stubService{
		accountErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Username: "alice",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/account/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
	if len(res.Cookies()) != 0 {
		t.Fatalf("cookie must not be set on failed login")
	}
}

func TestLogin_BadRequest(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	for _, body := range []string{`{"username":"alice"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/account/login", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()

		h.Login(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestProtectedRoutes_RequireCookie(t *testing.T) {
	router := newTestHandler(t, &stubService{}).SetupRouter()

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/streak"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodGet, "/api/tasks/user/1"},
		{http.MethodPost, "/api/payment"},
		{http.MethodGet, "/api/account/1"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestInvalidPathParams(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	cookie := rec.Result().Cookies()[0]

	for _, path := range []string{"/api/tasks/not-a-uuid", "/api/account/abc", "/api/tasks/user/-1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetTasksByUser_EmptyArray(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/user/1", nil)
	req.AddCookie(cookie)
	respRec := httptest.NewRecorder()

	router.ServeHTTP(respRec, req)

	assert.Equal(t, http.StatusOK, respRec.Code)
	assert.JSONEq(t, `[]`, respRec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: title is required", validation.ErrInvalid), http.StatusBadRequest},
		{coach.ErrEmptyPrompt, http.StatusBadRequest},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{repository.ErrAccountNotFound, http.StatusNotFound},
		{repository.ErrTaskNotFound, http.StatusNotFound},
		{payment.ErrDeclined, http.StatusPaymentRequired},
		{repository.ErrInsufficientBalance, http.StatusPaymentRequired},
		{fmt.Errorf("%w: 1e17", repository.ErrAmountOutOfRange), http.StatusBadRequest},
		{fmt.Errorf("%w: alice", repository.ErrUserExists), http.StatusConflict},
		{lifecycle.ErrConflict, http.StatusConflict},
		{coach.ErrNotConfigured, http.StatusServiceUnavailable},
		{repository.ErrInconsistentState, http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}

	_, msg := statusFor(fmt.Errorf("%w: title is required", validation.ErrInvalid))
	assert.Equal(t, "title is required", msg)

	_, msg = statusFor(errors.New("pq: password authentication failed"))
	assert.Equal(t, "Internal Server Error", msg)
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name    string
		svc     *stubService
		body    string
		status  int
		message string
	}{
		{name: "ok", svc: &stubService{suggestion: "Walk 10 minutes daily."}, body: `{"prompt":"help"}`, status: http.StatusOK},
		{name: "empty prompt", svc: &stubService{suggestErr: coach.ErrEmptyPrompt}, body: `{"prompt":""}`, status: http.StatusBadRequest, message: "prompt is required"},
		{name: "not configured", svc: &stubService{suggestErr: coach.ErrNotConfigured}, body: `{"prompt":"help"}`, status: http.StatusServiceUnavailable},
		{name: "upstream failure", svc: &stubService{suggestErr: errors.New("unexpected status: 429: slow down")}, body: `{"prompt":"help"}`, status: http.StatusInternalServerError, message: "coach request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)

			req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			h.Generate(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"result":"Walk 10 minutes daily."}`, rec.Body.String())
				return
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, decodeError(t, rec))
			}
		})
	}
}

// Сквозные сценарии: роутер, сервис и файловое хранилище во временном каталоге.

type fakeGateway struct {
	err error
}

func (g *fakeGateway) Charge(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	return g.err
}

type e2e struct {
	t      *testing.T
	router http.Handler
	dir    string
	pay    *fakeGateway
	now    time.Time
	loc    *time.Location
}

func newE2E(t *testing.T) *e2e {
	t.Helper()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	dir := t.TempDir()
	repo, err := repository.NewFileRepository(dir)
	require.NoError(t, err)

	e := &e2e{t: t, dir: dir, pay: &fakeGateway{}, loc: loc, now: time.Date(2025, time.May, 3, 15, 0, 0, 0, loc)}

	svc := service.NewService(repo, e.pay, nil, zap.NewNop(), service.Options{
		StartingBalance: decimal.NewFromInt(100),
		Location:        loc,
		Policy:          lifecycle.DefaultPolicy(),
		Now:             func() time.Time { return e.now },
	})

	h := NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"), "")
	e.router = h.SetupRouter()

	return e
}

func (e *e2e) do(cookie *http.Cookie, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *e2e) signup(username string) (*http.Cookie, int64) {
	e.t.Helper()

	rec := e.do(nil, http.MethodPost, "/api/account", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret1",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var a model.Account
	require.NoError(e.t, json.NewDecoder(rec.Body).Decode(&a))

	cookies := rec.Result().Cookies()
	require.NotEmpty(e.t, cookies)

	return cookies[0], a.ID
}

func (e *e2e) createTask(cookie *http.Cookie, body map[string]any) model.Task {
	e.t.Helper()

	rec := e.do(cookie, http.MethodPost, "/api/tasks", body)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())

	var task model.Task
	require.NoError(e.t, json.NewDecoder(rec.Body).Decode(&task))
	return task
}

func (e *e2e) streak(cookie *http.Cookie) streakResponse {
	e.t.Helper()

	rec := e.do(cookie, http.MethodGet, "/api/streak", nil)
	require.Equal(e.t, http.StatusOK, rec.Code)

	var s streakResponse
	require.NoError(e.t, json.NewDecoder(rec.Body).Decode(&s))
	return s
}

func (e *e2e) seedStreak(accountID int64, current, best int, lastDate string) {
	e.t.Helper()

	doc := fmt.Sprintf(`{"%d":{"current":%d,"best":%d,"lastDate":%q}}`, accountID, current, best, lastDate)
	require.NoError(e.t, os.WriteFile(filepath.Join(e.dir, "streaks.json"), []byte(doc), 0o644))
}

func TestScenario_CompleteEasyTaskStartsStreak(t *testing.T) {
	e := newE2E(t)
	cookie, _ := e.signup("alice")

	task := e.createTask(cookie, map[string]any{"title": "Read", "deadline": "2025-05-04", "mode": "easy", "deposit": 50})
	assert.False(t, task.Deposit.Valid)
	assert.Equal(t, model.PaymentStatusNone, task.PaymentStatus)

	rec := e.do(cookie, http.MethodPatch, "/api/tasks/"+task.ID.String(), map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, streakResponse{Streak: 1, BestStreak: 1}, e.streak(cookie))
}

func TestScenario_CompletionExtendsYesterdaysStreak(t *testing.T) {
	e := newE2E(t)
	cookie, id := e.signup("alice")
	e.seedStreak(id, 1, 1, "2025-05-02")

	task := e.createTask(cookie, map[string]any{"title": "Read", "deadline": "2025-05-04"})
	rec := e.do(cookie, http.MethodPatch, "/api/tasks/"+task.ID.String(), map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, streakResponse{Streak: 2, BestStreak: 2}, e.streak(cookie))
}

func TestScenario_StaleStreakReadsAsZero(t *testing.T) {
	e := newE2E(t)
	cookie, id := e.signup("alice")
	e.seedStreak(id, 2, 5, "2025-05-01")

	assert.Equal(t, streakResponse{Streak: 0, BestStreak: 5}, e.streak(cookie))

	// Чтение не сохраняет обнулённую серию.
	raw, err := os.ReadFile(filepath.Join(e.dir, "streaks.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"current":2`)
}

func TestScenario_DeclinedDepositPaymentPersistsNothing(t *testing.T) {
	e := newE2E(t)
	cookie, id := e.signup("alice")
	e.pay.err = payment.ErrDeclined

	rec := e.do(cookie, http.MethodPost, "/api/tasks", map[string]any{
		"title": "Cold shower", "deadline": "2025-05-04", "mode": "hard", "deposit": 10,
	})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = e.do(cookie, http.MethodGet, fmt.Sprintf("/api/tasks/user/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := os.Stat(filepath.Join(e.dir, "tasks.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestHardTaskLifecycleOverHTTP(t *testing.T) {
	e := newE2E(t)
	cookie, id := e.signup("alice")

	rec := e.do(cookie, http.MethodPost, "/api/tasks", map[string]any{"title": "Gym", "deadline": "2025-05-04", "mode": "hard"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "deposit must be positive for hard mode", decodeError(t, rec))

	kept := e.createTask(cookie, map[string]any{"title": "Gym", "deadline": "2025-05-04", "mode": "hard", "deposit": 10})
	dropped := e.createTask(cookie, map[string]any{"title": "Run", "deadline": "2025-05-04", "mode": "hard", "deposit": 20})
	assert.Equal(t, model.PaymentStatusPaid, kept.PaymentStatus)

	account := func() model.Account {
		rec := e.do(cookie, http.MethodGet, fmt.Sprintf("/api/account/%d", id), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var a model.Account
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
		return a
	}
	assert.Equal(t, "70.00", account().Balance.StringFixed(2))

	for range 2 {
		rec = e.do(cookie, http.MethodPatch, "/api/tasks/"+kept.ID.String(), map[string]any{"completed": true})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, "80.00", account().Balance.StringFixed(2))

	rec = e.do(cookie, http.MethodPatch, "/api/tasks/"+dropped.ID.String(), map[string]any{"cancelled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var task model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
	assert.Equal(t, model.PaymentStatusForfeited, task.PaymentStatus)

	a := account()
	assert.Equal(t, "80.00", a.Balance.StringFixed(2))
	assert.Len(t, a.Transactions, 4)

	rec = e.do(cookie, http.MethodPatch, "/api/tasks/"+dropped.ID.String(), map[string]any{"completed": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOwnershipOverHTTP(t *testing.T) {
	e := newE2E(t)
	alice, aliceID := e.signup("alice")
	bob, bobID := e.signup("bob")

	task := e.createTask(alice, map[string]any{"title": "Read", "deadline": "2025-05-04"})

	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodGet, "/api/tasks/"+task.ID.String(), nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodPatch, "/api/tasks/"+task.ID.String(), map[string]any{"completed": true}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodDelete, "/api/tasks/"+task.ID.String(), nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodGet, fmt.Sprintf("/api/tasks/user/%d", aliceID), nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodGet, fmt.Sprintf("/api/account/%d", aliceID), nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodPost, "/api/tasks", map[string]any{"userid": aliceID, "title": "x", "deadline": "2025-05-04"}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(bob, http.MethodPost, "/api/payment", map[string]any{"userid": aliceID, "amount": 5}).Code)

	assert.Equal(t, http.StatusNotFound, e.do(alice, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil).Code)

	rec := e.do(bob, http.MethodGet, fmt.Sprintf("/api/tasks/user/%d", bobID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPaymentAndDeletesOverHTTP(t *testing.T) {
	e := newE2E(t)
	cookie, id := e.signup("alice")

	rec := e.do(cookie, http.MethodPost, "/api/payment", map[string]any{"amount": 30, "description": "Books"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success     bool              `json:"success"`
		NewBalance  decimal.Decimal   `json:"newBalance"`
		Transaction model.Transaction `json:"transaction"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "70.00", resp.NewBalance.StringFixed(2))
	assert.Equal(t, model.TransactionPayment, resp.Transaction.Type)

	assert.Equal(t, http.StatusPaymentRequired, e.do(cookie, http.MethodPost, "/api/payment", map[string]any{"amount": 500}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(cookie, http.MethodPost, "/api/payment", map[string]any{"amount": 0}).Code)

	for _, amount := range []json.Number{"100000000000000000", "-100000000000000000"} {
		rec = e.do(cookie, http.MethodPost, "/api/payment", map[string]any{"amount": amount})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "amount must not exceed")
	}
	rec = e.do(cookie, http.MethodPost, "/api/tasks", map[string]any{
		"title": "Gym", "deadline": "2025-05-04", "mode": "hard", "deposit": json.Number("100000000000000000"),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = e.do(cookie, http.MethodGet, fmt.Sprintf("/api/account/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acc model.Account
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&acc))
	assert.Equal(t, "70.00", acc.Balance.StringFixed(2))

	first := e.createTask(cookie, map[string]any{"title": "One", "deadline": "2025-05-04"})
	e.createTask(cookie, map[string]any{"title": "Two", "deadline": "2025-05-04"})
	e.createTask(cookie, map[string]any{"title": "Three", "deadline": "2025-05-04"})

	assert.Equal(t, http.StatusNoContent, e.do(cookie, http.MethodDelete, "/api/tasks/"+first.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(cookie, http.MethodGet, "/api/tasks/"+first.ID.String(), nil).Code)

	rec = e.do(cookie, http.MethodDelete, fmt.Sprintf("/api/tasks/user/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":2}`, rec.Body.String())

	rec = e.do(cookie, http.MethodDelete, fmt.Sprintf("/api/account/%d", id), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, e.do(cookie, http.MethodGet, fmt.Sprintf("/api/account/%d", id), nil).Code)
}

func TestSignupAndLoginOverHTTP(t *testing.T) {
	e := newE2E(t)
	e.signup("alice")

	rec := e.do(nil, http.MethodPost, "/api/account", map[string]string{"username": "alice", "email": "a@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(nil, http.MethodPost, "/api/account/login", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())

	rec = e.do(nil, http.MethodPost, "/api/account/login", map[string]string{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(nil, http.MethodPost, "/api/generate", map[string]string{"prompt": "help me"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
