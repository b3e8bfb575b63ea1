package cache

import (
	"fmt"
	"time"
)

const (
	LeaderboardKeyPrefix = "leaderboard:"
	leaderboardKeyFormat = "leaderboard:%d"
	rateLimitKeyFormat   = "ratelimit:%s:%s"
	jobLockKeyFormat     = "scheduler:lock:%s:%d"
)

// DefaultLeaderboardTTL bounds how stale a cached leaderboard page can be when
// an invalidation is lost.
const DefaultLeaderboardTTL = 30 * time.Second

// LeaderboardKey caches one leaderboard page of the given size.
func LeaderboardKey(limit int) string {
	return fmt.Sprintf(leaderboardKeyFormat, limit)
}

// RateLimitKey counts requests by one caller against one resource.
func RateLimitKey(resource, caller string) string {
	return fmt.Sprintf(rateLimitKeyFormat, resource, caller)
}

// JobLockKey claims one scheduled firing of job across instances.
func JobLockKey(job string, slot time.Time) string {
	return fmt.Sprintf(jobLockKeyFormat, job, slot.Unix())
}
