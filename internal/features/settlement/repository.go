// Package settlement — repository.go выполняет операции с таблицей kill_logs.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"snake-arena/internal/db/postgres"
)

// Имя уникального ограничения на kill_reference — по нему распознаётся
// проигранная гонка двух одновременных расчётов одного события.
const KillReferenceConstraint = "kill_logs_kill_reference_key"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

const killLogColumns = `id, kill_reference, killer_ticket_id, victim_ticket_id,
	killer_user_id, victim_user_id, room_instance_id, reward_amount, fee_amount, created_at`

// FindByReference ищет запись килла по killReference.
// Отсутствие записи — не ошибка: возвращается (nil, nil).
func (r *Repository) FindByReference(ctx context.Context, db postgres.DBTX, ref string) (*KillLog, error) {
	if db == nil {
		db = r.db
	}
	var kl KillLog
	err := db.QueryRow(ctx,
		`SELECT `+killLogColumns+` FROM kill_logs WHERE kill_reference = $1`, ref,
	).Scan(
		&kl.ID, &kl.KillReference, &kl.KillerTicketID, &kl.VictimTicketID,
		&kl.KillerUserID, &kl.VictimUserID, &kl.RoomInstanceID,
		&kl.RewardAmount, &kl.FeeAmount, &kl.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка поиска килла: %w", err)
	}
	return &kl, nil
}

// Insert добавляет запись килла и возвращает её ID.
// Нарушение уникальности kill_reference отдаётся вызывающему как есть:
// сервис распознаёт его через postgres.IsUniqueViolation и перечитывает
// уже зафиксированный результат.
func (r *Repository) Insert(ctx context.Context, tx postgres.DBTX, kl *KillLog) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO kill_logs
			(kill_reference, killer_ticket_id, victim_ticket_id,
			 killer_user_id, victim_user_id, room_instance_id, reward_amount, fee_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		kl.KillReference, kl.KillerTicketID, kl.VictimTicketID,
		kl.KillerUserID, kl.VictimUserID, kl.RoomInstanceID,
		kl.RewardAmount, kl.FeeAmount,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи килла: %w", err)
	}
	return id, nil
}
