// Package handler содержит HTTP-обработчики API трекера целей.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

const maxBodyBytes = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterAccount(ctx context.Context, d model.AccountDraft) (*model.Account, error)
	Authenticate(ctx context.Context, username, password string) (*model.Account, error)
	GetAccount(ctx context.Context, callerID, id int64) (*model.Account, error)
	UpdateAccount(ctx context.Context, callerID, id int64, p model.AccountPatch) (*model.Account, error)
	DeleteAccount(ctx context.Context, callerID, id int64) error
	MakePayment(ctx context.Context, callerID, accountID int64, amount decimal.Decimal, description string) (*model.Account, *model.Transaction, error)

	CreateTask(ctx context.Context, callerID int64, d model.TaskDraft) (*model.Task, error)
	GetTask(ctx context.Context, callerID int64, id uuid.UUID) (*model.Task, error)
	GetTasksByUser(ctx context.Context, callerID, userID int64) ([]model.Task, error)
	UpdateTask(ctx context.Context, callerID int64, id uuid.UUID, p model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, callerID int64, id uuid.UUID) error
	DeleteTasksByUser(ctx context.Context, callerID, userID int64) (int64, error)

	GetStreak(ctx context.Context, callerID int64) (model.Streak, error)
	Suggest(ctx context.Context, prompt string) (string, error)
}

// Handler реализует HTTP-обработчики API трекера целей.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	corsOrigin     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// corsOrigin задаёт origin веб-клиента, пустая строка отключает CORS.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, corsOrigin string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		corsOrigin:     corsOrigin,
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type paymentRequest struct {
	UserID      int64           `json:"userid"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type paymentResponse struct {
	Success     bool               `json:"success"`
	NewBalance  decimal.Decimal    `json:"newBalance"`
	Transaction *model.Transaction `json:"transaction"`
}

type streakResponse struct {
	Streak     int `json:"streak"`
	BestStreak int `json:"bestStreak"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Result string `json:"result"`
}

type deletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// CreateAccount регистрирует пользователя и устанавливает cookie авторизации.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req model.AccountDraft
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.service.RegisterAccount(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "register account error", zap.String("username", req.Username))
		return
	}

	h.authMiddleware.SetAuthCookie(w, a.ID)
	writeJSON(w, http.StatusCreated, a)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	a, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err, "login error", zap.String("username", req.Username))
		return
	}

	h.authMiddleware.SetAuthCookie(w, a.ID)
	writeJSON(w, http.StatusOK, a)
}

// Logout удаляет cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetAccount возвращает счёт текущего пользователя с журналом операций.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	a, err := h.service.GetAccount(r.Context(), callerID, id)
	if err != nil {
		h.writeServiceError(w, err, "get account error", zap.Int64("account_id", id))
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// UpdateAccount изменяет профиль текущего пользователя.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	var req model.AccountPatch
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.service.UpdateAccount(r.Context(), callerID, id, req)
	if err != nil {
		h.writeServiceError(w, err, "update account error", zap.Int64("account_id", id))
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// DeleteAccount удаляет счёт текущего пользователя вместе с задачами.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.accountParams(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), callerID, id); err != nil {
		h.writeServiceError(w, err, "delete account error", zap.Int64("account_id", id))
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Payment проводит платёж по счёту текущего пользователя.
func (h *Handler) Payment(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, entry, err := h.service.MakePayment(r.Context(), callerID, req.UserID, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, err, "payment error", zap.Int64("account_id", callerID))
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		Success:     true,
		NewBalance:  a.Balance,
		Transaction: entry,
	})
}

// CreateTask создаёт задачу текущего пользователя.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req model.TaskDraft
	if !h.decode(w, r, &req) {
		return
	}

	task, err := h.service.CreateTask(r.Context(), callerID, req)
	if err != nil {
		h.writeServiceError(w, err, "create task error", zap.Int64("user_id", callerID))
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// GetTasksByUser возвращает задачи пользователя, новые первыми.
func (h *Handler) GetTasksByUser(w http.ResponseWriter, r *http.Request) {
	callerID, userID, ok := h.userParams(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.GetTasksByUser(r.Context(), callerID, userID)
	if err != nil {
		h.writeServiceError(w, err, "get tasks error", zap.Int64("user_id", userID))
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	writeJSON(w, http.StatusOK, tasks)
}

// DeleteTasksByUser удаляет все задачи пользователя.
func (h *Handler) DeleteTasksByUser(w http.ResponseWriter, r *http.Request) {
	callerID, userID, ok := h.userParams(w, r)
	if !ok {
		return
	}

	n, err := h.service.DeleteTasksByUser(r.Context(), callerID, userID)
	if err != nil {
		h.writeServiceError(w, err, "delete tasks error", zap.Int64("user_id", userID))
		return
	}

	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

// GetTask возвращает задачу по идентификатору.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.taskParams(w, r)
	if !ok {
		return
	}

	task, err := h.service.GetTask(r.Context(), callerID, id)
	if err != nil {
		h.writeServiceError(w, err, "get task error", zap.String("task_id", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// UpdateTask частично обновляет задачу, включая отметки о выполнении и отмене.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.taskParams(w, r)
	if !ok {
		return
	}

	var req model.TaskPatch
	if !h.decode(w, r, &req) {
		return
	}

	task, err := h.service.UpdateTask(r.Context(), callerID, id, req)
	if err != nil {
		h.writeServiceError(w, err, "update task error", zap.String("task_id", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// DeleteTask удаляет одну задачу.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	callerID, id, ok := h.taskParams(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), callerID, id); err != nil {
		h.writeServiceError(w, err, "delete task error", zap.String("task_id", id.String()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetStreak возвращает серию текущего пользователя.
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}

	s, err := h.service.GetStreak(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, err, "get streak error", zap.Int64("user_id", callerID))
		return
	}

	writeJSON(w, http.StatusOK, streakResponse{Streak: s.Current, BestStreak: s.Best})
}

// Generate проксирует запрос к коучу.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Suggest(r.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, coach.ErrEmptyPrompt) || errors.Is(err, coach.ErrNotConfigured) {
			h.writeServiceError(w, err, "generate error")
			return
		}
		h.logger.Error("coach request error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "coach request failed")
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{Result: result})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetAccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return id, true
}

func (h *Handler) accountParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	return h.idParam(w, r, "id", "invalid account id")
}

func (h *Handler) userParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	return h.idParam(w, r, "userid", "invalid user id")
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request, name, msg string) (int64, int64, bool) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return 0, 0, false
	}

	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msg)
		return 0, 0, false
	}

	return callerID, id, true
}

func (h *Handler) taskParams(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return 0, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, uuid.Nil, false
	}

	return callerID, id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ. Неизвестные ошибки
// логируются и возвращаются клиенту как 500 без подробностей.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status, text := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	writeError(w, status, text)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), validation.ErrInvalid.Error()+": ")
	case errors.Is(err, repository.ErrAmountOutOfRange):
		return http.StatusBadRequest, "amount is out of range"
	case errors.Is(err, coach.ErrEmptyPrompt):
		return http.StatusBadRequest, "prompt is required"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid username or password"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, repository.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, repository.ErrTaskNotFound):
		return http.StatusNotFound, "task not found"
	case errors.Is(err, payment.ErrDeclined):
		return http.StatusPaymentRequired, "payment declined"
	case errors.Is(err, repository.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, repository.ErrUserExists):
		return http.StatusConflict, "username already taken"
	case errors.Is(err, lifecycle.ErrConflict):
		return http.StatusConflict, "task is already completed or cancelled"
	case errors.Is(err, coach.ErrNotConfigured):
		return http.StatusServiceUnavailable, "coach is not configured"
	case errors.Is(err, repository.ErrInconsistentState):
		return http.StatusInternalServerError, "inconsistent state: " + repository.ErrInconsistentState.Error()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
