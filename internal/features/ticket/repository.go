// Package ticket — repository.go выполняет операции с таблицей vip_tickets.
// Мутации состояния билета происходят только под блокировкой LockByID
// в транзакции вызывающего сервиса.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
)

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

const ticketColumns = `id, user_id, room_type, ticket_code, entry_fee, status,
	room_instance_id, consumed_at, settled_at, created_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.UserID, &t.RoomType, &t.TicketCode, &t.EntryFee, &t.Status,
		&t.RoomInstanceID, &t.ConsumedAt, &t.SettledAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Insert создаёт билет в состоянии ISSUED и возвращает его с ID.
func (r *Repository) Insert(ctx context.Context, db postgres.DBTX, t *Ticket) (*Ticket, error) {
	if db == nil {
		db = r.db
	}
	out, err := scanTicket(db.QueryRow(ctx, `
		INSERT INTO vip_tickets (user_id, room_type, ticket_code, entry_fee, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ticketColumns,
		t.UserID, t.RoomType, t.TicketCode, t.EntryFee, StatusIssued,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи билета: %w", err)
	}
	return out, nil
}

// GetByID возвращает билет без блокировки.
func (r *Repository) GetByID(ctx context.Context, db postgres.DBTX, id int64) (*Ticket, error) {
	if db == nil {
		db = r.db
	}
	t, err := scanTicket(db.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM vip_tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("id=%d: %w", id, common.ErrTicketNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения билета: %w", err)
	}
	return t, nil
}

// LockByID читает билет с эксклюзивной блокировкой строки.
// Конкурирующие потребления одного билета сериализуются здесь:
// проигравший увидит уже обновлённый статус и упадёт на его проверке.
func (r *Repository) LockByID(ctx context.Context, tx postgres.DBTX, id int64) (*Ticket, error) {
	t, err := scanTicket(tx.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM vip_tickets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("id=%d: %w", id, common.ErrTicketNotFound)
		}
		return nil, postgres.WrapConflict(fmt.Errorf("ошибка блокировки билета: %w", err))
	}
	return t, nil
}

// MarkConsumed переводит билет в CONSUMED с привязкой к экземпляру комнаты.
// entryFee перезаписывается актуальным значением конфига на момент потребления.
func (r *Repository) MarkConsumed(ctx context.Context, tx postgres.DBTX, id int64, roomInstanceID string, entryFee decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE vip_tickets
		SET status = $2, room_instance_id = $3, entry_fee = $4, consumed_at = NOW()
		WHERE id = $1
	`, id, StatusConsumed, roomInstanceID, entryFee)
	if err != nil {
		return fmt.Errorf("ошибка потребления билета: %w", err)
	}
	return nil
}

// MarkSettled отмечает, что взнос по билету окончательно списан/возвращён.
func (r *Repository) MarkSettled(ctx context.Context, tx postgres.DBTX, id int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE vip_tickets SET settled_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка отметки расчёта по билету: %w", err)
	}
	return nil
}

// FindConsumedUnsettled возвращает потреблённые билеты без расчёта взноса.
// После рестарта сервера такие билеты осиротели: их комнаты жили в памяти.
func (r *Repository) FindConsumedUnsettled(ctx context.Context, limit int) ([]*Ticket, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM vip_tickets
		WHERE status = $1 AND settled_at IS NULL
		ORDER BY consumed_at
		LIMIT $2
	`, StatusConsumed, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска нерассчитанных билетов: %w", err)
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ExpireStale переводит протухшие ISSUED-билеты в EXPIRED.
// Деньги не двигаются: на выдаче взнос только резервировался.
func (r *Repository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE vip_tickets
		SET status = $1
		WHERE status = $2 AND created_at < $3
	`, StatusExpired, StatusIssued, olderThan)
	if err != nil {
		return 0, fmt.Errorf("ошибка устаревания билетов: %w", err)
	}
	return tag.RowsAffected(), nil
}
