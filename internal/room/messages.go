// Package room — messages.go: формат сообщений между комнатой и клиентами.
// Симуляция присылает уже дедуплицированные триггеры; обратно уходят
// балансы после расчёта либо явная ошибка.
package room

// Типы входящих триггеров от авторитетной симуляции.
const (
	TriggerKill    = "kill"
	TriggerWall    = "wall"
	TriggerRespawn = "respawn"
)

// Trigger — входящее событие симуляции.
// Отправитель обязан быть участником события: киллер заявляет килл только
// своим билетом, а в wall и respawn жертва — всегда сама сессия.
type Trigger struct {
	Type string `json:"type"`
	// Для kill: билеты обеих сторон и уникальная ссылка события.
	KillerTicketID int64  `json:"killerTicketId,omitempty"`
	VictimTicketID int64  `json:"victimTicketId,omitempty"`
	KillReference  string `json:"killReference,omitempty"`
}

// Типы исходящих сообщений.
const (
	MsgBalance = "balance"
	MsgError   = "error"
	MsgJoined  = "joined"
)

// BalanceUpdate — новый баланс игрока после рассчитанного события.
// Суммы — строки с фиксированной точностью токена.
type BalanceUpdate struct {
	Type   string `json:"type"` // "balance"
	UserID int64  `json:"userId"`
	Credit string `json:"credit"`
	// Что именно произошло: reward / penalty / respawn.
	Cause  string `json:"cause"`
	Amount string `json:"amount"`
}

// ErrorMessage — явное уведомление об отказе операции.
// Визуальная смерть змеи при этом НЕ откатывается — принятая
// рассинхронизация симуляции и экономики.
type ErrorMessage struct {
	Type   string `json:"type"` // "error"
	Reason string `json:"reason"`
}

// JoinedMessage — подтверждение входа в комнату.
type JoinedMessage struct {
	Type           string `json:"type"` // "joined"
	RoomInstanceID string `json:"roomInstanceId"`
	TickRate       int    `json:"tickRate"`
}
