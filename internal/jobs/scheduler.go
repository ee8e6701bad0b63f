// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: экспирация неиспользованных билетов
// и дожим зависших реферальных начислений.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/features/referral"
	"snake-arena/internal/features/ticket"
)

// сколько зависших PENDING-начислений дожимаем за один проход
const reconfirmBatch = 100

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron      *cron.Cron
	tickets   *ticket.Service
	referrals *referral.Service
	ticketTTL time.Duration
	// возраст, после которого PENDING-начисление считается зависшим
	staleAge time.Duration
}

// NewScheduler создаёт планировщик задач. Всё расписание в UTC:
// расчётные сроки не должны зависеть от локального пояса сервера.
func NewScheduler(tickets *ticket.Service, referrals *referral.Service, ticketTTL, staleAge time.Duration) *Scheduler {
	c := cron.New(cron.WithLocation(time.UTC))

	return &Scheduler{
		cron:      c,
		tickets:   tickets,
		referrals: referrals,
		ticketTTL: ticketTTL,
		staleAge:  staleAge,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	// Каждые 5 минут: резервации, так и не дошедшие до комнаты
	s.cron.AddFunc("*/5 * * * *", func() {
		log.Debug("[CRON] Экспирация просроченных билетов")
		n, err := s.tickets.ExpireStale(ctx, s.ticketTTL)
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка экспирации билетов")
			return
		}
		if n > 0 {
			log.WithField("count", n).Info("[CRON] Билеты помечены просроченными")
		}
	})

	// Каждые 10 минут: реферальные начисления, застрявшие в PENDING
	s.cron.AddFunc("*/10 * * * *", func() {
		log.Debug("[CRON] Дожим зависших реферальных начислений")
		if err := s.referrals.ReconfirmStale(ctx, s.staleAge, reconfirmBatch); err != nil {
			log.WithError(err).Error("[CRON] Ошибка дожима начислений")
		}
	})

	s.cron.Start()
	log.Info("Планировщик задач запущен (UTC)")
}

// Stop останавливает планировщик.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
