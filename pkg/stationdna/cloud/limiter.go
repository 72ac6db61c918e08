package cloud

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// quota enforces a per-minute token bucket and a per-day counter that
// resets at UTC midnight. Both are checked locally before any network call.
type quota struct {
	minute *rate.Limiter

	mu      sync.Mutex
	perDay  int
	day     string
	usedDay int
}

func newQuota(perMinute, perDay int) *quota {
	q := &quota{perDay: perDay}
	if perMinute > 0 {
		q.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return q
}

// allow consumes one request from both budgets, or none if either is spent.
func (q *quota) allow(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	today := now.UTC().Format(time.DateOnly)
	if today != q.day {
		q.day, q.usedDay = today, 0
	}
	if q.perDay > 0 && q.usedDay >= q.perDay {
		return false
	}
	if q.minute != nil && !q.minute.AllowN(now, 1) {
		return false
	}
	q.usedDay++
	return true
}

func (q *quota) usedToday() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usedDay
}
