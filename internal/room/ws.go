package room

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// сколько ждём запись одного сообщения клиенту
	writeWait = 10 * time.Second
	// максимальный размер входящего сообщения от клиента
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Авторизация делается по сессионному токену, не по Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler — websocket-вход в комнату.
// Токен и тип комнаты передаются query-параметрами: /ws?room=vip&token=...
type Handler struct {
	bridge *Bridge
}

func NewHandler(bridge *Bridge) *Handler {
	return &Handler{bridge: bridge}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomType := r.URL.Query().Get("room")
	token := r.URL.Query().Get("token")
	if roomType == "" || token == "" {
		http.Error(w, "room and token are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Не удалось открыть websocket")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx := r.Context()
	sess, room, err := h.bridge.Join(ctx, roomType, token, func(userID, ticketID int64) *Session {
		return NewSession(userID, ticketID, conn)
	})
	if err != nil {
		// Вход не состоялся — сообщаем причину и закрываем соединение.
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(&ErrorMessage{Type: MsgError, Reason: failureReason(err)})
		_ = conn.Close()
		return
	}

	if err := sess.Send(&JoinedMessage{
		Type:           MsgJoined,
		RoomInstanceID: room.InstanceID,
		TickRate:       room.Cfg.TickRate,
	}); err != nil {
		log.WithError(err).Warn("Не удалось подтвердить вход")
	}

	h.readLoop(room, sess)

	// Disconnect по любой причине: сессия выходит, взнос списывается.
	// Выход не должен зависеть от уже отменённого контекста запроса.
	leaveCtx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	h.bridge.Leave(leaveCtx, room, sess)
	_ = sess.Close()
}

// readLoop читает триггеры симуляции до разрыва соединения.
func (h *Handler) readLoop(room *Room, sess *Session) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("user_id", sess.UserID).Debug("Соединение разорвано")
			}
			return
		}

		var trig Trigger
		if err := json.Unmarshal(raw, &trig); err != nil {
			if serr := sess.Send(&ErrorMessage{Type: MsgError, Reason: "bad_message"}); serr != nil {
				return
			}
			continue
		}
		h.dispatch(room, sess, &trig)
	}
}

func (h *Handler) dispatch(room *Room, sess *Session, trig *Trigger) {
	// Сессия — участник события, а не нейтральный наблюдатель: триггер,
	// заявленный чужим билетом, отклоняется до любого обращения к движку.
	if !authorizeTrigger(sess, trig) {
		log.WithFields(log.Fields{
			"trigger":       trig.Type,
			"room_instance": room.InstanceID,
			"user_id":       sess.UserID,
		}).Warn("Триггер чужим билетом отклонён")
		if serr := sess.Send(&ErrorMessage{Type: MsgError, Reason: "foreign_ticket"}); serr != nil {
			log.WithError(serr).Warn("Не удалось отправить отказ по чужому билету")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	var err error
	switch trig.Type {
	case TriggerKill:
		err = h.bridge.OnKillDetected(ctx, room, sess.TicketID, trig.VictimTicketID, trig.KillReference)
	case TriggerWall:
		err = h.bridge.OnWallCollision(ctx, room, sess.TicketID)
	case TriggerRespawn:
		err = h.bridge.OnRespawnRequested(ctx, room, sess.TicketID)
	default:
		if serr := sess.Send(&ErrorMessage{Type: MsgError, Reason: "unknown_trigger"}); serr != nil {
			log.WithError(serr).Warn("Не удалось отправить ответ на неизвестный триггер")
		}
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"trigger":       trig.Type,
			"room_instance": room.InstanceID,
			"user_id":       sess.UserID,
		}).Warn("Триггер не рассчитан")
	}
}

// authorizeTrigger проверяет, что отправитель — участник события.
// Килл заявляется только собственным билетом; в wall и respawn присланный
// ID билета вообще не используется — жертвой всегда считается сама сессия.
func authorizeTrigger(sess *Session, trig *Trigger) bool {
	if trig.Type == TriggerKill {
		return trig.KillerTicketID == sess.TicketID
	}
	return true
}
