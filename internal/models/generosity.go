package models

import "slices"

// Generosity levels, from lowest to highest.
const (
	LevelNewbie         = "Newbie"
	LevelGiver          = "Giver"
	LevelGenerous       = "Generous"
	LevelPhilanthropist = "Philanthropist"
	LevelLegend         = "Legend"
)

// GenerosityTier is the lowest score that earns Level.
type GenerosityTier struct {
	Min   int64
	Level string
}

// GenerosityTiers lists the tiers from highest to lowest. The last tier starts at zero.
var GenerosityTiers = []GenerosityTier{
	{10000, LevelLegend},
	{2000, LevelPhilanthropist},
	{500, LevelGenerous},
	{100, LevelGiver},
	{0, LevelNewbie},
}

// GenerosityLevelFor derives the generosity level from a generosity score.
func GenerosityLevelFor(score int64) string {
	for _, t := range GenerosityTiers {
		if score >= t.Min {
			return t.Level
		}
	}
	return LevelNewbie
}

// Achievement codes.
const (
	AchievementFirstGift    = "first_gift"
	AchievementTenGifts     = "ten_gifts"
	AchievementGenerousSoul = "generous_soul"
	AchievementBigSpender   = "big_spender"
	AchievementFirstReceipt = "first_gift_received"
)

// Achievement describes an unlockable badge.
type Achievement struct {
	Code  string
	Title string
	// Unlocked reports whether the post-write account qualifies.
	Unlocked func(a *Account) bool
}

// Achievements lists every achievement in evaluation order.
var Achievements = []Achievement{
	{AchievementFirstGift, "First Gift", func(a *Account) bool { return a.GiftsGiven >= 1 }},
	{AchievementTenGifts, "Ten Gifts", func(a *Account) bool { return a.GiftsGiven >= 10 }},
	{AchievementGenerousSoul, "Generous Soul", func(a *Account) bool { return a.TotalGifted >= 500 }},
	{AchievementBigSpender, "Big Spender", func(a *Account) bool { return a.TotalGifted >= 2000 }},
	{AchievementFirstReceipt, "First Gift Received", func(a *Account) bool { return a.GiftsReceived >= 1 }},
}

// NewlyUnlocked returns the achievements a now qualifies for but has not yet unlocked.
func NewlyUnlocked(a *Account) []Achievement {
	var out []Achievement
	for _, ach := range Achievements {
		if ach.Unlocked(a) && !slices.Contains(a.Achievements, ach.Code) {
			out = append(out, ach)
		}
	}
	return out
}
