package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGiftState(t *testing.T) {
	recipient := int64(200)

	assert.Equal(t, GiftRequested, Gift{GiverID: 100}.State())
	assert.Equal(t, GiftAccepted, Gift{GiverID: 100, RecipientID: &recipient}.State())
	assert.Equal(t, GiftCancelled, Gift{GiverID: 100, RecipientID: &recipient, Cancelled: true}.State())
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewValidationError(ReasonSelfReference, ""))

	assert.True(t, errors.Is(err, ErrValidation))

	vErr, ok := AsValidation(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonSelfReference, vErr.Reason)
}

func TestAppStateIsAdmin(t *testing.T) {
	s := AppState{OwnerID: 1, AdminID: 2}

	assert.True(t, s.IsAdmin(1))
	assert.True(t, s.IsAdmin(2))
	assert.False(t, s.IsAdmin(3))
	assert.False(t, AppState{}.IsAdmin(0))
}

func TestAppStateIsZero(t *testing.T) {
	assert.True(t, AppState{}.IsZero())
	assert.True(t, AppState{Notifications: map[int64][]MessageRef{}}.IsZero())
	assert.False(t, AppState{AdminID: 2}.IsZero())
	assert.False(t, AppState{GiftNotifications: map[int64][]MessageRef{3: {{ChatID: 1, MessageID: 2}}}}.IsZero())
}

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "bee", NormalizeHandle(" @Bee "))
	assert.Equal(t, "bee_99", NormalizeHandle("bee_99"))
}

func TestExchangeCounterparty(t *testing.T) {
	ex := Exchange{Member1: 100, Member2: 200, Handle1: "ay", Handle2: "bee"}

	id, handle := ex.Counterparty(100)
	assert.Equal(t, int64(200), id)
	assert.Equal(t, "bee", handle)

	id, handle = ex.Counterparty(200)
	assert.Equal(t, int64(100), id)
	assert.Equal(t, "ay", handle)
}
