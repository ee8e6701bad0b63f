// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, мост комнат
// и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/api"
	"snake-arena/internal/config"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/referral"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/settlement"
	"snake-arena/internal/features/ticket"
	"snake-arena/internal/features/users"
	"snake-arena/internal/features/wallet"
	"snake-arena/internal/jobs"
	"snake-arena/internal/room"
)

// App содержит все компоненты приложения.
type App struct {
	Mux       *http.ServeMux
	Scheduler *jobs.Scheduler
	Worker    *referral.Worker
	Outbox    *settlement.Outbox
	DB        *pgxpool.Pool
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	runner := postgres.NewPoolRunner(pool)

	// === 2. Репозитории ===
	userRepo := users.NewRepository(pool)
	walletRepo := wallet.NewRepository(pool)
	configRepo := roomconfig.NewRepository(pool)
	ticketRepo := ticket.NewRepository(pool)
	killRepo := settlement.NewRepository(pool)
	rewardRepo := referral.NewRepository(pool)

	// === 3. Сервисы ===
	userService := users.NewService(userRepo)
	walletService := wallet.NewService(walletRepo, cfg.TokenDecimals)
	configService := roomconfig.NewService(configRepo, cfg)
	ticketService := ticket.NewService(ticketRepo, walletService, configService, runner)

	// Комнаты прошлого процесса умерли вместе с ним: возвращаем взносы
	// по билетам, которые остались потреблёнными без расчёта.
	if _, err := ticketService.RefundOrphaned(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка возврата осиротевших взносов: %w", err)
	}

	// === 4. Расчётный контур ===
	outbox := settlement.NewOutbox(cfg.OutboxBuffer)
	engine := settlement.NewService(
		killRepo, ticketRepo, walletService, configService,
		runner, outbox, cfg.TokenDecimals,
	)
	referralService := referral.NewService(rewardRepo, userService, walletService, runner, cfg)
	worker := referral.NewWorker(referralService, outbox.Tasks())

	// === 5. Мост комнат и клиентский API ===
	bridge := room.NewBridge(ticketService, engine, configService, cfg)
	apiHandler := api.NewHandler(userService, ticketService, configService, walletService, cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", room.NewHandler(bridge))
	apiHandler.Register(mux)

	// === 6. Планировщик задач ===
	ticketTTL := time.Duration(cfg.TicketTTLMinutes) * time.Minute
	staleAge := time.Duration(cfg.ReferralStaleMinutes) * time.Minute
	scheduler := jobs.NewScheduler(ticketService, referralService, ticketTTL, staleAge)

	log.Info("Приложение собрано")
	return &App{
		Mux:       mux,
		Scheduler: scheduler,
		Worker:    worker,
		Outbox:    outbox,
		DB:        pool,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Инициализируем систему миграций
	if err := postgres.InitMigrations(ctx, pool); err != nil {
		return err
	}

	// Выполняем миграции по порядку
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Users},
		{2, migration002Wallets},
		{3, migration003RoomConfigs},
		{4, migration004Tickets},
		{5, migration005KillLogs},
		{6, migration006ReferralRewards},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Users = `
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    wallet_address VARCHAR(255) UNIQUE NOT NULL,
    username VARCHAR(255),
    referred_by BIGINT REFERENCES users(id),
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by);
`

var migration002Wallets = `
CREATE TABLE IF NOT EXISTS wallet_balances (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL REFERENCES users(id),
    available_amount NUMERIC(30,6) NOT NULL DEFAULT 0 CHECK (available_amount >= 0),
    locked_amount NUMERIC(30,6) NOT NULL DEFAULT 0 CHECK (locked_amount >= 0),
    last_transaction_id BIGINT,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    tx_type VARCHAR(32) NOT NULL,
    amount NUMERIC(30,6) NOT NULL,
    fee_amount NUMERIC(30,6) NOT NULL DEFAULT 0,
    status VARCHAR(16) NOT NULL,
    reference_id VARCHAR(128),
    metadata JSONB,
    created_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(reference_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC);
`

var migration003RoomConfigs = `
CREATE TABLE IF NOT EXISTS vip_room_configs (
    id BIGSERIAL PRIMARY KEY,
    room_type VARCHAR(64) NOT NULL,
    entry_fee NUMERIC(30,6) NOT NULL,
    reward_rate_player NUMERIC(12,6) NOT NULL,
    reward_rate_treasury NUMERIC(12,6) NOT NULL,
    respawn_cost NUMERIC(30,6) NOT NULL,
    max_clients INTEGER NOT NULL,
    tick_rate INTEGER NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_vip_room_configs_active
    ON vip_room_configs(room_type) WHERE is_active;
`

var migration004Tickets = `
CREATE TABLE IF NOT EXISTS vip_tickets (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    room_type VARCHAR(64) NOT NULL,
    ticket_code VARCHAR(64) UNIQUE NOT NULL,
    entry_fee NUMERIC(30,6) NOT NULL,
    status VARCHAR(16) NOT NULL,
    room_instance_id VARCHAR(64),
    consumed_at TIMESTAMP,
    settled_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_vip_tickets_user ON vip_tickets(user_id);
CREATE INDEX IF NOT EXISTS idx_vip_tickets_status ON vip_tickets(status, created_at);
`

var migration005KillLogs = `
CREATE TABLE IF NOT EXISTS kill_logs (
    id BIGSERIAL PRIMARY KEY,
    kill_reference VARCHAR(128) NOT NULL,
    killer_ticket_id BIGINT REFERENCES vip_tickets(id),
    victim_ticket_id BIGINT NOT NULL REFERENCES vip_tickets(id),
    killer_user_id BIGINT REFERENCES users(id),
    victim_user_id BIGINT NOT NULL REFERENCES users(id),
    room_instance_id VARCHAR(64) NOT NULL,
    reward_amount NUMERIC(30,6) NOT NULL,
    fee_amount NUMERIC(30,6) NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    CONSTRAINT kill_logs_kill_reference_key UNIQUE (kill_reference)
);
CREATE INDEX IF NOT EXISTS idx_kill_logs_room ON kill_logs(room_instance_id);
`

var migration006ReferralRewards = `
CREATE TABLE IF NOT EXISTS referral_rewards (
    id BIGSERIAL PRIMARY KEY,
    referrer_id BIGINT NOT NULL REFERENCES users(id),
    referee_id BIGINT NOT NULL REFERENCES users(id),
    kill_log_id BIGINT NOT NULL REFERENCES kill_logs(id),
    action_type VARCHAR(16) NOT NULL,
    amount NUMERIC(30,6) NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP DEFAULT NOW(),
    confirmed_at TIMESTAMP,
    CONSTRAINT referral_rewards_payout_key
        UNIQUE (referrer_id, referee_id, kill_log_id, action_type)
);
CREATE INDEX IF NOT EXISTS idx_referral_rewards_status ON referral_rewards(status, created_at);
CREATE INDEX IF NOT EXISTS idx_referral_rewards_referrer ON referral_rewards(referrer_id);
`
