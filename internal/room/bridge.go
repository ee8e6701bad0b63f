// Package room — bridge.go: мост между авторитетной игровой комнатой
// и расчётным контуром. Все зависимости передаются явно при конструировании:
// никакого общего статического состояния между комнатами.
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/common"
	"snake-arena/internal/config"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/settlement"
	"snake-arena/internal/features/ticket"
)

// Engine — операции расчётного движка, нужные мосту.
type Engine interface {
	SettleKill(ctx context.Context, killerTicketID, victimTicketID int64, killReference, roomInstanceID string) (*settlement.KillResult, error)
	SettleWallCollision(ctx context.Context, victimTicketID int64, roomInstanceID string) (*settlement.CollisionResult, error)
	SettleRespawn(ctx context.Context, ticketID int64) (*settlement.RespawnResult, error)
}

// TicketGate — операции с билетами, нужные мосту.
type TicketGate interface {
	Validate(ctx context.Context, ticketID, expectedUserID int64) (*ticket.Ticket, error)
	Consume(ctx context.Context, ticketID int64, roomInstanceID string) (*ticket.Ticket, error)
	Refund(ctx context.Context, ticketID int64) error
	SettleExit(ctx context.Context, ticketID int64) error
}

// ConfigSource выдаёт активную экономику типа комнаты.
type ConfigSource interface {
	GetActiveConfig(ctx context.Context, roomType string) (*roomconfig.Config, error)
}

// Room — один живой экземпляр комнаты.
// Конфиг читается один раз при создании и дальше не меняется.
type Room struct {
	InstanceID string
	RoomType   string
	Cfg        *roomconfig.Config

	mu       sync.RWMutex
	sessions map[int64]*Session // по userID
	// ограничитель параллелизма расчётных вызовов
	inflight chan struct{}
}

func (r *Room) addSession(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.Cfg.MaxClients {
		return common.ErrRoomFull
	}
	r.sessions[s.UserID] = s
	return nil
}

func (r *Room) removeSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.UserID] == s {
		delete(r.sessions, s.UserID)
	}
}

// sendTo доставляет сообщение игроку, если он ещё подключён.
func (r *Room) sendTo(userID int64, v any) {
	r.mu.RLock()
	s := r.sessions[userID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if err := s.Send(v); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"room_instance": r.InstanceID,
			"user_id":       userID,
		}).Warn("Не удалось отправить сообщение игроку")
	}
}

// Bridge связывает комнаты с билетами и расчётным движком.
type Bridge struct {
	tickets TicketGate
	engine  Engine
	configs ConfigSource

	secret []byte
	scale  int32
	// вместимость каждого inflight-ограничителя
	maxInflight int

	mu    sync.Mutex
	rooms map[string]*Room // по instanceID
	// открытый для входа экземпляр каждого типа комнаты
	joinable map[string]*Room
}

// NewBridge создаёт мост с явными зависимостями.
func NewBridge(tickets TicketGate, engine Engine, configs ConfigSource, cfg *config.Config) *Bridge {
	return &Bridge{
		tickets:     tickets,
		engine:      engine,
		configs:     configs,
		secret:      []byte(cfg.SessionTokenSecret),
		scale:       cfg.TokenDecimals,
		maxInflight: cfg.SettleMaxInflight,
		rooms:       make(map[string]*Room),
		joinable:    make(map[string]*Room),
	}
}

// Join аутентифицирует сессию по токену, потребляет билет и добавляет
// игрока в открытый экземпляр комнаты.
func (b *Bridge) Join(ctx context.Context, roomType, token string, sess func(userID, ticketID int64) *Session) (*Session, *Room, error) {
	userID, ticketID, err := ParseSessionToken(b.secret, token)
	if err != nil {
		return nil, nil, err
	}

	// Валидация до потребления: чужой или использованный билет
	// отклоняется без каких-либо денежных эффектов.
	if _, err := b.tickets.Validate(ctx, ticketID, userID); err != nil {
		return nil, nil, err
	}

	room, err := b.joinableRoom(ctx, roomType)
	if err != nil {
		return nil, nil, err
	}

	// Потребление одноразово и транзакционно блокирует взнос.
	if _, err := b.tickets.Consume(ctx, ticketID, room.InstanceID); err != nil {
		return nil, nil, err
	}

	s := sess(userID, ticketID)
	if err := room.addSession(s); err != nil {
		// Комнату заняли, пока мы потребляли билет — взнос возвращается.
		if rerr := b.tickets.Refund(ctx, ticketID); rerr != nil {
			log.WithError(rerr).WithField("ticket_id", ticketID).
				Error("Не удалось вернуть взнос после срыва входа")
		}
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"user_id":       userID,
		"ticket_id":     ticketID,
		"room_instance": room.InstanceID,
	}).Info("Игрок вошёл в комнату")
	return s, room, nil
}

// Leave убирает сессию и окончательно списывает заблокированный взнос.
func (b *Bridge) Leave(ctx context.Context, room *Room, s *Session) {
	room.removeSession(s)
	if err := b.tickets.SettleExit(ctx, s.TicketID); err != nil {
		// Билет мог быть уже рассчитан (повторный disconnect) — это не сбой.
		if !errors.Is(err, common.ErrTicketAlreadySettled) {
			log.WithError(err).WithField("ticket_id", s.TicketID).
				Error("Не удалось рассчитать взнос при выходе")
		}
	}
	b.gcRoom(room)
}

// OnKillDetected — хук симуляции: килл обнаружен, рассчитать и разослать.
// Вызов синхронен для вызывающего, но держит inflight-слот: лавина киллов
// не породит лавину транзакций.
func (b *Bridge) OnKillDetected(ctx context.Context, room *Room, killerTicketID, victimTicketID int64, killReference string) error {
	release := b.acquire(room)
	defer release()

	res, err := b.engine.SettleKill(ctx, killerTicketID, victimTicketID, killReference, room.InstanceID)
	if err != nil {
		b.notifyFailure(room, err, killerTicketID, victimTicketID)
		return err
	}

	room.sendTo(res.KillerUserID, &BalanceUpdate{
		Type:   MsgBalance,
		UserID: res.KillerUserID,
		Credit: common.FormatAmount(res.KillerCredit, b.scale),
		Cause:  "reward",
		Amount: common.FormatAmount(res.RewardAmount, b.scale),
	})
	room.sendTo(res.VictimUserID, &BalanceUpdate{
		Type:   MsgBalance,
		UserID: res.VictimUserID,
		Credit: common.FormatAmount(res.VictimCredit, b.scale),
		Cause:  "penalty",
		Amount: common.FormatAmount(res.RewardAmount.Add(res.FeeAmount), b.scale),
	})
	return nil
}

// OnWallCollision — хук симуляции: смерть об стену.
func (b *Bridge) OnWallCollision(ctx context.Context, room *Room, victimTicketID int64) error {
	release := b.acquire(room)
	defer release()

	res, err := b.engine.SettleWallCollision(ctx, victimTicketID, room.InstanceID)
	if err != nil {
		b.notifyFailure(room, err, victimTicketID)
		return err
	}

	room.sendTo(res.UserID, &BalanceUpdate{
		Type:   MsgBalance,
		UserID: res.UserID,
		Credit: common.FormatAmount(res.Credit, b.scale),
		Cause:  "penalty",
		Amount: common.FormatAmount(res.PenaltyAmount, b.scale),
	})
	return nil
}

// OnRespawnRequested — хук симуляции: запрос респауна.
// Ошибка расчёта блокирует респаун — симуляция не должна оживлять змею.
func (b *Bridge) OnRespawnRequested(ctx context.Context, room *Room, ticketID int64) error {
	release := b.acquire(room)
	defer release()

	res, err := b.engine.SettleRespawn(ctx, ticketID)
	if err != nil {
		b.notifyFailure(room, err, ticketID)
		return err
	}

	room.sendTo(res.UserID, &BalanceUpdate{
		Type:   MsgBalance,
		UserID: res.UserID,
		Credit: common.FormatAmount(res.Credit, b.scale),
		Cause:  "respawn",
		Amount: common.FormatAmount(res.Cost, b.scale),
	})
	return nil
}

// joinableRoom возвращает открытый экземпляр типа комнаты,
// создавая новый, когда текущий заполнен.
func (b *Bridge) joinableRoom(ctx context.Context, roomType string) (*Room, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r := b.joinable[roomType]; r != nil {
		r.mu.RLock()
		n := len(r.sessions)
		r.mu.RUnlock()
		if n < r.Cfg.MaxClients {
			return r, nil
		}
	}

	cfg, err := b.configs.GetActiveConfig(ctx, roomType)
	if err != nil {
		return nil, err
	}
	r := &Room{
		InstanceID: uuid.NewString(),
		RoomType:   roomType,
		Cfg:        cfg,
		sessions:   make(map[int64]*Session),
		inflight:   make(chan struct{}, b.maxInflight),
	}
	b.rooms[r.InstanceID] = r
	b.joinable[roomType] = r

	log.WithFields(log.Fields{
		"room_instance": r.InstanceID,
		"room_type":     roomType,
		"max_clients":   cfg.MaxClients,
		"tick_rate":     cfg.TickRate,
	}).Info("Создан экземпляр комнаты")
	return r, nil
}

// gcRoom убирает опустевший экземпляр, если он уже не открыт для входа.
func (b *Bridge) gcRoom(room *Room) {
	room.mu.RLock()
	empty := len(room.sessions) == 0
	room.mu.RUnlock()
	if !empty {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.joinable[room.RoomType] == room {
		return
	}
	delete(b.rooms, room.InstanceID)
}

func (b *Bridge) acquire(room *Room) func() {
	room.inflight <- struct{}{}
	return func() { <-room.inflight }
}

// notifyFailure шлёт владельцам билетов явную ошибку. Балансы не менялись;
// визуальная смерть в симуляции при этом не откатывается.
func (b *Bridge) notifyFailure(room *Room, err error, ticketIDs ...int64) {
	reason := failureReason(err)
	room.mu.RLock()
	defer room.mu.RUnlock()
	for _, s := range room.sessions {
		for _, id := range ticketIDs {
			if s.TicketID == id {
				if serr := s.Send(&ErrorMessage{Type: MsgError, Reason: reason}); serr != nil {
					log.WithError(serr).Warn("Не удалось отправить уведомление об ошибке")
				}
			}
		}
	}
}

// failureReason переводит ошибку расчёта в безопасную причину для клиента.
func failureReason(err error) string {
	switch {
	case errors.Is(err, common.ErrInsufficientVictimCredit):
		return "insufficient_victim_credit"
	case errors.Is(err, common.ErrInsufficientCreditForRespawn):
		return "insufficient_credit_for_respawn"
	case errors.Is(err, common.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, common.ErrSettlementConflict):
		return "settlement_conflict"
	case errors.Is(err, common.ErrTicketNotInRoom),
		errors.Is(err, common.ErrTicketAlreadyConsumed),
		errors.Is(err, common.ErrTicketOwnershipMismatch):
		return "invalid_ticket"
	default:
		return "internal_error"
	}
}
