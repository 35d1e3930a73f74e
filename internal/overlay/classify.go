package overlay

import (
	"fmt"
	"time"

	"github.com/holdboard/holdboard/pkg/proto"
)

// ClockSkewTolerance is how far an expiry must sit beyond "now" before it
// counts as a real future expiry. Expiries closer than this are treated as
// the indefinite sentinel (see IndefiniteSentinelOffset).
const ClockSkewTolerance = 30 * time.Second

// IndefiniteSentinelOffset is the offset used to encode "no user-chosen
// expiry" as a concrete timestamp at the persistence and wire boundary.
// It must stay well inside ClockSkewTolerance so the classifier decodes
// it back to Indefinite.
const IndefiniteSentinelOffset = 10 * time.Second

// Class describes how a hold expiry relates to a reference time.
type Class int

const (
	ClassIndefinite Class = iota
	ClassDaysLeft
	ClassExpiresToday
	ClassExpiredDaysAgo
)

// Classification is the result of classifying a hold expiry.
// Days is meaningful only for ClassDaysLeft and ClassExpiredDaysAgo.
type Classification struct {
	Class Class
	Days  int
}

// String renders the classification the way the UI displays it.
func (c Classification) String() string {
	switch c.Class {
	case ClassDaysLeft:
		return fmt.Sprintf("%d day(s) left", c.Days)
	case ClassExpiresToday:
		return "Expires today"
	case ClassExpiredDaysAgo:
		return fmt.Sprintf("Expired %d day(s) ago", c.Days)
	default:
		return "Indefinite"
	}
}

// Classify decides whether a hold expiry is indefinite, active, expiring
// today, or already expired, relative to now. A nil expiry is indefinite,
// and so is any expiry within ClockSkewTolerance of now: that window is
// where the indefinite sentinel lives.
func Classify(expiry *time.Time, now time.Time) Classification {
	if expiry == nil {
		return Classification{Class: ClassIndefinite}
	}
	// Whole-second comparison: a tolerance-plus-fraction expiry still
	// decodes as the sentinel.
	diff := expiry.Sub(now)
	if diff.Truncate(time.Second) <= ClockSkewTolerance {
		return Classification{Class: ClassIndefinite}
	}
	switch days := wholeDays(diff); {
	case days > 0:
		return Classification{Class: ClassDaysLeft, Days: days}
	case days == 0:
		return Classification{Class: ClassExpiresToday}
	default:
		return Classification{Class: ClassExpiredDaysAgo, Days: -days}
	}
}

// wholeDays floors a duration to whole days.
func wholeDays(d time.Duration) int {
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// EffectiveExpiry resolves the expiry the UI should act on: the pending
// lock edit's expiry if one is staged, else the record's own.
func EffectiveExpiry(rec proto.ObjectRecord, pending *proto.LockStatus) *time.Time {
	if pending != nil {
		return pending.HoldExpiry
	}
	return rec.ExpirationDate
}

// IsEffectivelyLocked reports whether an object should display and behave
// as locked. A pending lock edit's hold flag takes precedence over the
// record's; independently, a resolved expiry strictly beyond the skew
// tolerance also counts as locked. Either condition alone suffices: a hold
// can be represented by the explicit flag or purely by a future expiry.
func IsEffectivelyLocked(rec proto.ObjectRecord, pending *proto.LockStatus, now time.Time) bool {
	held := rec.TemporaryHold
	if pending != nil {
		held = pending.TemporaryHold
	}
	if held {
		return true
	}
	expiry := EffectiveExpiry(rec, pending)
	return expiry != nil && expiry.After(now.Add(ClockSkewTolerance))
}

// isExpired reports whether a server record's own expiry (no overlay
// applied) is strictly in the past beyond the skew tolerance while the
// hold flag is inactive. The indefinite sentinel always sits a few seconds
// in the future, so it can never land here.
func isExpired(rec proto.ObjectRecord, now time.Time) bool {
	if rec.TemporaryHold || rec.ExpirationDate == nil {
		return false
	}
	return now.Sub(*rec.ExpirationDate) > ClockSkewTolerance
}
