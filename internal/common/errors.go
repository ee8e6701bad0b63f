// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях сервера.
// Эти ошибки позволяют мосту комнаты различать типы проблем
// и отправлять клиенту понятные сообщения.
package common

import "errors"

// Ошибки кошелька (балансы, списания)
var (
	// ErrInsufficientCredit — недостаточно кредитов на балансе
	ErrInsufficientCredit = errors.New("недостаточно кредитов на балансе")
	// ErrInsufficientVictimCredit — у жертвы не хватает кредитов на выплату за килл
	ErrInsufficientVictimCredit = errors.New("у жертвы недостаточно кредитов для расчёта")
	// ErrInsufficientCreditForRespawn — не хватает кредитов на респаун
	ErrInsufficientCreditForRespawn = errors.New("недостаточно кредитов для респауна")
	// ErrInvalidAmount — некорректная сумма (отрицательная)
	ErrInvalidAmount = errors.New("сумма не может быть отрицательной")
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrBalanceNotFound — запись баланса не найдена
	ErrBalanceNotFound = errors.New("баланс не найден")
)

// Ошибки билетов
var (
	// ErrTicketNotFound — билет не найден
	ErrTicketNotFound = errors.New("билет не найден")
	// ErrTicketAlreadyConsumed — билет уже использован (или протух)
	ErrTicketAlreadyConsumed = errors.New("билет уже использован")
	// ErrTicketOwnershipMismatch — билет принадлежит другому пользователю
	ErrTicketOwnershipMismatch = errors.New("билет принадлежит другому пользователю")
	// ErrTicketNotInRoom — билет не привязан к этому экземпляру комнаты
	ErrTicketNotInRoom = errors.New("билет не относится к этой комнате")
	// ErrTicketAlreadySettled — входной взнос по билету уже списан/возвращён
	ErrTicketAlreadySettled = errors.New("взнос по билету уже рассчитан")
)

// Ошибки расчётного движка
var (
	// ErrSettlementConflict — не удалось получить блокировки, можно повторить
	ErrSettlementConflict = errors.New("конфликт расчёта, повторите попытку")
	// ErrKillLogNotFound — запись килла не найдена
	ErrKillLogNotFound = errors.New("запись килла не найдена")
)

// Ошибки реферальных комиссий
var (
	// ErrCommissionCapExceeded — превышен пожизненный лимит комиссий с реферала
	ErrCommissionCapExceeded = errors.New("превышен лимит комиссий с этого реферала")
	// ErrReferralRewardNotFound — запись комиссии не найдена
	ErrReferralRewardNotFound = errors.New("запись комиссии не найдена")
)

// Ошибки комнаты
var (
	// ErrRoomFull — достигнут максимум клиентов в комнате
	ErrRoomFull = errors.New("комната заполнена")
	// ErrSessionInvalid — сессионный токен не прошёл проверку
	ErrSessionInvalid = errors.New("недействительный сессионный токен")
)
