// Package settlement — outbox.go: очередь комиссионных задач.
//
// Расчёт килла и реферальная комиссия намеренно разведены: задача кладётся
// в очередь строго ПОСЛЕ коммита расчётной транзакции, а обрабатывает её
// отдельный воркер в собственной транзакции. Комиссия никогда не блокирует
// и не роняет расчёт.
package settlement

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ActionType — роль реферала в рассчитанном событии.
type ActionType string

const (
	ActionKill  ActionType = "kill"  // реферал был киллером
	ActionDeath ActionType = "death" // реферал был жертвой
)

// CommissionTask — одна сторона рассчитанного события для обработки комиссии.
type CommissionTask struct {
	KillLogID     int64
	RefereeUserID int64
	Action        ActionType
	// Казначейская доля события — база для расчёта комиссии.
	FeeAmount decimal.Decimal
}

// Outbox — внутрипроцессная очередь комиссионных задач.
type Outbox struct {
	ch chan CommissionTask
}

// NewOutbox создаёт очередь с буфером size.
func NewOutbox(size int) *Outbox {
	return &Outbox{ch: make(chan CommissionTask, size)}
}

// Enqueue кладёт задачи в очередь, не блокируясь. Переполнение очереди
// не останавливает игровой цикл: задача теряется с ошибкой в логе,
// периодическая сверка планировщика дорасчитает зависшие комиссии.
func (o *Outbox) Enqueue(tasks ...CommissionTask) {
	for _, t := range tasks {
		select {
		case o.ch <- t:
		default:
			log.WithFields(log.Fields{
				"kill_log_id": t.KillLogID,
				"referee":     t.RefereeUserID,
				"action":      t.Action,
			}).Error("Очередь комиссий переполнена, задача отброшена")
		}
	}
}

// Tasks возвращает канал задач для воркера.
func (o *Outbox) Tasks() <-chan CommissionTask {
	return o.ch
}

// Close закрывает очередь. После закрытия Enqueue вызывать нельзя.
func (o *Outbox) Close() {
	close(o.ch)
}
