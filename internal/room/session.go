// Package room — session.go: выпуск и проверка сессионных токенов
// и состояние одного подключения.
//
// Токен выдаётся access-эндпоинтом вместе с билетом и предъявляется
// при websocket-входе в комнату.
package room

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"snake-arena/internal/common"
)

// SessionClaims — полезная нагрузка сессионного токена.
// sub — ID игрока, ticket_id — билет, с которым игрок входит в комнату.
type SessionClaims struct {
	TicketID int64 `json:"ticket_id"`
	jwt.RegisteredClaims
}

// SignSessionToken выпускает сессионный токен под выданный билет.
func SignSessionToken(secret []byte, userID, ticketID int64, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		TicketID: ticketID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseSessionToken проверяет подпись HS256 и возвращает (userID, ticketID).
// Любая проблема с токеном — ErrSessionInvalid: клиенту детали не нужны.
func ParseSessionToken(secret []byte, token string) (int64, int64, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return 0, 0, common.ErrSessionInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, common.ErrSessionInvalid
	}
	if claims.TicketID <= 0 {
		return 0, 0, common.ErrSessionInvalid
	}
	return userID, claims.TicketID, nil
}

// Session — одно живое подключение игрока к комнате.
type Session struct {
	UserID   int64
	TicketID int64

	conn *websocket.Conn
	mu   sync.Mutex // сериализует запись в conn
}

// NewSession оборачивает websocket-подключение.
func NewSession(userID, ticketID int64, conn *websocket.Conn) *Session {
	return &Session{UserID: userID, TicketID: ticketID, conn: conn}
}

// Send пишет JSON-сообщение в подключение. Потокобезопасно.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close закрывает подключение.
func (s *Session) Close() error {
	return s.conn.Close()
}
