//go:build ignore

// generate_token.go — утилита для выпуска тестового сессионного токена.
// Запуск: go run scripts/generate_token.go <секрет> <user_id> <ticket_id>
//
// В продакшене токен выдаёт POST /api/access вместе с билетом; эта утилита
// нужна только для локальной отладки websocket-входа в комнату.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Println("Использование: go run scripts/generate_token.go <секрет> <user_id> <ticket_id>")
		os.Exit(1)
	}

	secret := os.Args[1]
	userID, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil || userID <= 0 {
		fmt.Printf("Некорректный user_id: %s\n", os.Args[2])
		os.Exit(1)
	}
	ticketID, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil || ticketID <= 0 {
		fmt.Printf("Некорректный ticket_id: %s\n", os.Args[3])
		os.Exit(1)
	}

	claims := struct {
		TicketID int64 `json:"ticket_id"`
		jwt.RegisteredClaims
	}{
		TicketID: ticketID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Ошибка подписи токена: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Токен (действителен 1 час):")
	fmt.Println(token)
	fmt.Printf("\nПодключение: ws://localhost:8080/ws?room=vip_snake&token=%s\n", token)
}
