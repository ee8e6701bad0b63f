// Package users — repository.go отвечает за все операции с таблицей users в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
)

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

// Create добавляет нового игрока. На конфликте по wallet_address ничего
// не меняет: адрес кошелька неизменяем, а реферальная связь ставится
// ровно один раз — при создании записи.
func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (wallet_address, username, referred_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, u.WalletAddress, u.Username, u.ReferredBy)
	if err != nil {
		return fmt.Errorf("ошибка создания игрока: %w", err)
	}
	return nil
}

// GetByID возвращает игрока по внутреннему ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, wallet_address, username, referred_by, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.WalletAddress, &u.Username, &u.ReferredBy, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("id=%d: %w", id, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения игрока (id=%d): %w", id, err)
	}
	return &u, nil
}

// GetByWallet возвращает игрока по адресу кошелька.
func (r *Repository) GetByWallet(ctx context.Context, wallet string) (*User, error) {
	query := `
		SELECT id, wallet_address, username, referred_by, created_at, updated_at
		FROM users
		WHERE wallet_address = $1
	`
	var u User
	err := r.db.QueryRow(ctx, query, wallet).Scan(
		&u.ID, &u.WalletAddress, &u.Username, &u.ReferredBy, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet=%s: %w", wallet, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения игрока (wallet=%s): %w", wallet, err)
	}
	return &u, nil
}

// UpdateUsername обновляет отображаемое имя. Адрес кошелька и реферальная
// связь этим методом не трогаются никогда.
func (r *Repository) UpdateUsername(ctx context.Context, id int64, username string) error {
	query := `UPDATE users SET username = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, username); err != nil {
		return fmt.Errorf("ошибка обновления имени: %w", err)
	}
	return nil
}
