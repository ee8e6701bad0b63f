// Package config загружает конфигурацию сервера из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"arena"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"snake_arena"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`

	// --- Token ---
	// Точность токена: все суммы храним и отдаём с таким числом знаков после запятой.
	TokenDecimals int32 `envconfig:"TOKEN_DECIMALS" default:"6"`

	// --- Session ---
	// Секрет для проверки подписи сессионных токенов (выдаёт внешний auth-сервис).
	SessionTokenSecret string `envconfig:"SESSION_TOKEN_SECRET" required:"true"`

	// --- Room defaults ---
	// Экономика комнаты по умолчанию. Применяется при автосоздании конфига
	// для типа комнаты, у которого ещё нет активной записи в vip_room_configs.
	RoomEntryFee           decimal.Decimal `envconfig:"ROOM_ENTRY_FEE" default:"1"`
	RoomRewardRatePlayer   decimal.Decimal `envconfig:"ROOM_REWARD_RATE_PLAYER" default:"0.9"`
	RoomRewardRateTreasury decimal.Decimal `envconfig:"ROOM_REWARD_RATE_TREASURY" default:"0.1"`
	RoomRespawnCost        decimal.Decimal `envconfig:"ROOM_RESPAWN_COST" default:"0.1"`
	RoomMaxClients         int             `envconfig:"ROOM_MAX_CLIENTS" default:"20"`
	RoomTickRate           int             `envconfig:"ROOM_TICK_RATE" default:"20"`

	// --- Referral ---
	// Комиссия считается от казначейской доли (feeAmount) рассчитанного события.
	ReferralKillRate  decimal.Decimal `envconfig:"REFERRAL_KILL_COMMISSION_RATE" default:"0.05"`
	ReferralDeathRate decimal.Decimal `envconfig:"REFERRAL_DEATH_COMMISSION_RATE" default:"0.01"`
	// Пожизненный лимит комиссий с одного реферала. 0 = без лимита.
	ReferralCommissionCap decimal.Decimal `envconfig:"REFERRAL_COMMISSION_CAP" default:"0"`
	// Через сколько минут PENDING-начисление считается зависшим
	// и дожимается планировщиком.
	ReferralStaleMinutes int `envconfig:"REFERRAL_STALE_MINUTES" default:"15"`

	// --- Runtime ---
	// Размер буфера очереди комиссионных задач (outbox).
	OutboxBuffer int `envconfig:"OUTBOX_BUFFER" default:"1024"`
	// Сколько расчётных вызовов обрабатываем параллельно в одной комнате.
	// Иначе "go на каждое событие" = лавина транзакций при массовой гибели змей.
	SettleMaxInflight int `envconfig:"SETTLE_MAX_INFLIGHT" default:"32"`
	// Через сколько минут неиспользованный (ISSUED) билет считается протухшим.
	TicketTTLMinutes int `envconfig:"TICKET_TTL_MINUTES" default:"30"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	if c.TokenDecimals < 0 || c.TokenDecimals > 18 {
		return fmt.Errorf("TOKEN_DECIMALS должен быть в диапазоне 0..18")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.RoomEntryFee.IsNegative() || c.RoomRespawnCost.IsNegative() {
		return fmt.Errorf("ROOM_ENTRY_FEE и ROOM_RESPAWN_COST не могут быть отрицательными")
	}
	if c.RoomRewardRatePlayer.IsNegative() || c.RoomRewardRateTreasury.IsNegative() {
		return fmt.Errorf("ставки наград не могут быть отрицательными")
	}
	if c.ReferralKillRate.IsNegative() || c.ReferralDeathRate.IsNegative() {
		return fmt.Errorf("ставки комиссий не могут быть отрицательными")
	}
	if c.ReferralCommissionCap.IsNegative() {
		return fmt.Errorf("REFERRAL_COMMISSION_CAP не может быть отрицательным")
	}
	if c.RoomMaxClients <= 0 || c.RoomTickRate <= 0 {
		return fmt.Errorf("ROOM_MAX_CLIENTS и ROOM_TICK_RATE должны быть > 0")
	}
	if c.OutboxBuffer <= 0 || c.SettleMaxInflight <= 0 {
		return fmt.Errorf("OUTBOX_BUFFER и SETTLE_MAX_INFLIGHT должны быть > 0")
	}
	if c.TicketTTLMinutes <= 0 {
		return fmt.Errorf("TICKET_TTL_MINUTES должен быть > 0")
	}
	if c.ReferralStaleMinutes <= 0 {
		return fmt.Errorf("REFERRAL_STALE_MINUTES должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
