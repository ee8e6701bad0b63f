// Package referral — worker.go потребляет комиссионные задачи из outbox.
// Ошибки обработки логируются и глотаются: комиссия — best-effort контур,
// расчётный движок о её судьбе не знает.
package referral

import (
	"context"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"snake-arena/internal/features/settlement"
)

// Worker обрабатывает очередь комиссионных задач.
type Worker struct {
	svc   *Service
	tasks <-chan settlement.CommissionTask
}

// NewWorker создаёт воркер комиссий.
func NewWorker(svc *Service, tasks <-chan settlement.CommissionTask) *Worker {
	return &Worker{svc: svc, tasks: tasks}
}

// Run крутит цикл обработки до отмены контекста или закрытия очереди.
// Запускается отдельной горутиной из main.
func (w *Worker) Run(ctx context.Context) {
	log.Info("Воркер комиссий запущен")
	for {
		select {
		case <-ctx.Done():
			log.Info("Воркер комиссий останавливается (ctx done)")
			return
		case task, ok := <-w.tasks:
			if !ok {
				log.Info("Очередь комиссий закрыта, воркер остановлен")
				return
			}
			w.process(ctx, task)
		}
	}
}

func (w *Worker) process(ctx context.Context, task settlement.CommissionTask) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"component":   "commission_worker",
				"panic":       r,
				"stack":       string(debug.Stack()),
				"kill_log_id": task.KillLogID,
			}).Error("ПАНИКА в обработке комиссии — восстановлено")
		}
	}()

	if _, err := w.svc.ProcessTask(ctx, task); err != nil {
		// Расчёт килла уже зафиксирован — ошибку комиссии только логируем.
		log.WithError(err).WithFields(log.Fields{
			"kill_log_id": task.KillLogID,
			"referee":     task.RefereeUserID,
			"action":      task.Action,
		}).Error("Ошибка начисления комиссии")
	}
}
