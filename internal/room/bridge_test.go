package room

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"snake-arena/internal/common"
	"snake-arena/internal/features/roomconfig"
)

func TestRoomMaxClients(t *testing.T) {
	r := &Room{
		InstanceID: "room-1",
		RoomType:   "vip_snake",
		Cfg:        &roomconfig.Config{MaxClients: 2},
		sessions:   make(map[int64]*Session),
	}

	assert.NoError(t, r.addSession(&Session{UserID: 1}))
	assert.NoError(t, r.addSession(&Session{UserID: 2}))
	assert.ErrorIs(t, r.addSession(&Session{UserID: 3}), common.ErrRoomFull)

	// после ухода игрока место освобождается
	s := &Session{UserID: 1}
	r.sessions[1] = s
	r.removeSession(s)
	assert.NoError(t, r.addSession(&Session{UserID: 3}))
}

func TestFailureReason(t *testing.T) {
	cases := []struct {
		err    error
		reason string
	}{
		{common.ErrInsufficientVictimCredit, "insufficient_victim_credit"},
		{common.ErrInsufficientCreditForRespawn, "insufficient_credit_for_respawn"},
		{common.ErrInsufficientCredit, "insufficient_credit"},
		{common.ErrSettlementConflict, "settlement_conflict"},
		{common.ErrTicketNotInRoom, "invalid_ticket"},
		{common.ErrTicketAlreadyConsumed, "invalid_ticket"},
		{common.ErrTicketOwnershipMismatch, "invalid_ticket"},
		{errors.New("пул соединений закрыт"), "internal_error"},
		{fmt.Errorf("нужно 1, доступно 0.5: %w", common.ErrInsufficientCredit), "insufficient_credit"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.reason, failureReason(tc.err))
	}
}
