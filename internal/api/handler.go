// Package api — тонкий HTTP-слой перед расчётным контуром.
// handler.go: выдача билета с сессионным токеном (вход в платную комнату
// начинается здесь) и чтение журнала движений кредитов для клиента.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"snake-arena/internal/common"
	"snake-arena/internal/config"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/ticket"
	"snake-arena/internal/features/users"
	"snake-arena/internal/features/wallet"
	"snake-arena/internal/room"
)

// UserRegistry — регистрация и поиск игроков по кошельку.
type UserRegistry interface {
	GetOrCreate(ctx context.Context, wallet, username string, referredBy *int64) (*users.User, error)
}

// TicketIssuer — проверка доступа и выдача билетов.
type TicketIssuer interface {
	CheckAccess(ctx context.Context, userID int64, roomType string) (*ticket.AccessResult, error)
}

// ConfigSource — активная экономика типа комнаты.
type ConfigSource interface {
	GetActiveConfig(ctx context.Context, roomType string) (*roomconfig.Config, error)
}

// Journal — чтение журнала движений кредитов.
type Journal interface {
	RecentTransactions(ctx context.Context, userID int64, limit int) ([]*wallet.Transaction, error)
}

// сколько записей журнала отдаём по умолчанию и максимум
const (
	defaultJournalLimit = 20
	maxJournalLimit     = 100
)

// Handler — HTTP-обработчики клиентского API.
type Handler struct {
	users   UserRegistry
	tickets TicketIssuer
	configs ConfigSource
	journal Journal

	secret   []byte
	tokenTTL time.Duration
	scale    int32
}

// NewHandler создаёт обработчики клиентского API.
// Срок жизни сессионного токена совпадает с TTL билета: токен без живого
// билета бесполезен.
func NewHandler(userReg UserRegistry, tickets TicketIssuer, configs ConfigSource, journal Journal, cfg *config.Config) *Handler {
	return &Handler{
		users:    userReg,
		tickets:  tickets,
		configs:  configs,
		journal:  journal,
		secret:   []byte(cfg.SessionTokenSecret),
		tokenTTL: time.Duration(cfg.TicketTTLMinutes) * time.Minute,
		scale:    cfg.TokenDecimals,
	}
}

// Register вешает маршруты клиентского API на mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/access", h.Access)
	mux.HandleFunc("/api/transactions", h.Transactions)
}

type accessRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username,omitempty"`
	ReferredBy    *int64 `json:"referredBy,omitempty"`
	RoomType      string `json:"roomType"`
}

type accessResponse struct {
	CanJoin  bool   `json:"canJoin"`
	Reason   string `json:"reason,omitempty"`
	UserID   int64  `json:"userId,omitempty"`
	TicketID int64  `json:"ticketId,omitempty"`
	Token    string `json:"token,omitempty"`
	// Экономика комнаты: цена входа и полное списание за одну смерть.
	EntryFee  string `json:"entryFee,omitempty"`
	KillDebit string `json:"killDebit,omitempty"`
	TickRate  int    `json:"tickRate,omitempty"`
}

// Access регистрирует игрока по кошельку, проверяет доступ в платную
// комнату и при достаточном балансе выдаёт билет с сессионным токеном.
func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req accessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.WalletAddress == "" || req.RoomType == "" {
		http.Error(w, "walletAddress and roomType are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	u, err := h.users.GetOrCreate(ctx, req.WalletAddress, req.Username, req.ReferredBy)
	if err != nil {
		log.WithError(err).WithField("wallet", req.WalletAddress).Error("Не удалось зарегистрировать игрока")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	res, err := h.tickets.CheckAccess(ctx, u.ID, req.RoomType)
	if err != nil {
		log.WithError(err).WithField("user_id", u.ID).Error("Не удалось проверить доступ")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !res.CanJoin {
		writeJSON(w, http.StatusOK, &accessResponse{CanJoin: false, Reason: res.Reason, UserID: u.ID})
		return
	}

	cfg, err := h.configs.GetActiveConfig(ctx, req.RoomType)
	if err != nil || cfg == nil {
		log.WithError(err).WithField("room_type", req.RoomType).Error("Не удалось получить конфиг комнаты")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	token, err := room.SignSessionToken(h.secret, u.ID, res.Ticket.ID, h.tokenTTL)
	if err != nil {
		log.WithError(err).Error("Не удалось подписать сессионный токен")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, &accessResponse{
		CanJoin:   true,
		UserID:    u.ID,
		TicketID:  res.Ticket.ID,
		Token:     token,
		EntryFee:  common.FormatAmount(cfg.EntryFee, h.scale),
		KillDebit: common.FormatAmount(cfg.TotalKillDebit(), h.scale),
		TickRate:  cfg.TickRate,
	})
}

type transactionView struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Amount      string  `json:"amount"`
	FeeAmount   string  `json:"feeAmount"`
	Status      string  `json:"status"`
	ReferenceID *string `json:"referenceId,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

// Transactions возвращает последние записи журнала игрока.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		if n > maxJournalLimit {
			n = maxJournalLimit
		}
		limit = n
	}

	txs, err := h.journal.RecentTransactions(r.Context(), userID, limit)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Error("Не удалось прочитать журнал")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]*transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, &transactionView{
			ID:          t.ID,
			Type:        t.Type,
			Amount:      common.FormatAmount(t.Amount, h.scale),
			FeeAmount:   common.FormatAmount(t.FeeAmount, h.scale),
			Status:      t.Status,
			ReferenceID: t.ReferenceID,
			CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Не удалось записать ответ")
	}
}
