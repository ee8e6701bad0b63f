// Package users управляет игроками: регистрацией при первом входе
// и реферальной связью. models.go описывает структуры для таблицы users.
package users

import "time"

// User представляет игрока в базе данных.
// Создаётся автоматически при первом логине по адресу кошелька.
type User struct {
	ID            int64     `db:"id"`             // Автоинкрементный ID записи в БД
	WalletAddress string    `db:"wallet_address"` // Адрес кошелька (уникальный, неизменяемый)
	Username      string    `db:"username"`       // Отображаемое имя (может быть пустым)
	ReferredBy    *int64    `db:"referred_by"`    // ID пригласившего (nil, если пришёл сам)
	CreatedAt     time.Time `db:"created_at"`     // Когда запись создана в БД
	UpdatedAt     time.Time `db:"updated_at"`     // Последнее обновление записи
}

// DisplayName возвращает отображаемое имя игрока.
// Если имя не задано — короткий адрес кошелька.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if len(u.WalletAddress) > 8 {
		return u.WalletAddress[:4] + "…" + u.WalletAddress[len(u.WalletAddress)-4:]
	}
	return u.WalletAddress
}
