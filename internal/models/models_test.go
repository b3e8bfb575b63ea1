package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestGenerosityLevelFor(t *testing.T) {
	tests := []struct {
		score int64
		want  string
	}{
		{0, LevelNewbie},
		{99, LevelNewbie},
		{100, LevelGiver},
		{499, LevelGiver},
		{500, LevelGenerous},
		{1999, LevelGenerous},
		{2000, LevelPhilanthropist},
		{9999, LevelPhilanthropist},
		{10000, LevelLegend},
		{250000, LevelLegend},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("score_%d", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, GenerosityLevelFor(tt.score))
		})
	}
}

func TestNewlyUnlocked(t *testing.T) {
	a := &Account{GiftsGiven: 1, TotalGifted: 600}
	codes := func(list []Achievement) []string {
		var out []string
		for _, ach := range list {
			out = append(out, ach.Code)
		}
		return out
	}

	assert.ElementsMatch(t, []string{AchievementFirstGift, AchievementGenerousSoul}, codes(NewlyUnlocked(a)))

	a.Achievements = []string{AchievementFirstGift}
	assert.Equal(t, []string{AchievementGenerousSoul}, codes(NewlyUnlocked(a)))
}

func TestPairKey_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "5:alice:bob", PairKey("alice", "bob"))
	assert.Equal(t, "5:alice:bob", PairKey("bob", "alice"))

	low, high := CanonicalPair("zed", "amy")
	assert.Equal(t, "amy", low)
	assert.Equal(t, "zed", high)
}

func TestPairKey_IdsContainingSeparator(t *testing.T) {
	pairs := [][2]string{
		{"a:b", "c"},
		{"a", "b:c"},
		{"a:", "b"},
		{"a", ":b"},
		{"1:a", "b"},
		{"1", "a:b"},
	}
	seen := map[string][2]string{}
	for _, p := range pairs {
		key := PairKey(p[0], p[1])
		assert.Equal(t, key, PairKey(p[1], p[0]))
		if prev, ok := seen[key]; ok {
			t.Errorf("pairs %v and %v share key %q", prev, p, key)
		}
		seen[key] = p
	}
}

func TestFriendship_Sides(t *testing.T) {
	f := &Friendship{UserLowID: "a", UserHighID: "b", InitiatedBy: "b"}
	assert.True(t, f.Involves("a"))
	assert.False(t, f.Involves("c"))
	assert.Equal(t, "b", f.OtherID("a"))
	assert.Equal(t, "a", f.Recipient())
}

func TestValidateAccountID(t *testing.T) {
	assert.NoError(t, ValidateAccountID("uid-123"))
	assert.True(t, HasCode(ValidateAccountID(""), CodeValidation))
	assert.True(t, HasCode(ValidateAccountID("has space"), CodeValidation))
	assert.True(t, HasCode(ValidateAccountID(strings.Repeat("x", 129)), CodeValidation))
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("jane_doe.1"))
	assert.Error(t, ValidateUsername("ab"))
	assert.Error(t, ValidateUsername("Jane"))
	assert.Error(t, ValidateUsername("jane doe"))
	assert.Equal(t, "jane", NormalizeUsername("  JaNe "))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewNotFoundError("Account", "x"), fiber.StatusNotFound},
		{NewAlreadyExistsError("dup"), fiber.StatusConflict},
		{NewInsufficientFundsError(1, 2), fiber.StatusUnprocessableEntity},
		{NewInvalidStateError("nope"), fiber.StatusConflict},
		{NewValidationError("bad"), fiber.StatusBadRequest},
		{NewConflictError(errors.New("40001")), fiber.StatusConflict},
		{NewUnavailableError(errors.New("refused")), fiber.StatusServiceUnavailable},
		{NewUnauthorizedError("who"), fiber.StatusUnauthorized},
		{NewInternalError(errors.New("boom")), fiber.StatusInternalServerError},
		{errors.New("plain"), fiber.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", NewNotFoundError("Entry", 1)), fiber.StatusNotFound},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("driver failure")
	err := NewInternalError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "driver failure")
	assert.True(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(cause, CodeInternal))
}
