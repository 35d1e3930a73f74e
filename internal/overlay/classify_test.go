package overlay

import (
	"testing"
	"time"

	"github.com/holdboard/holdboard/pkg/proto"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name   string
		expiry *time.Time
		want   Classification
	}{
		{"nil expiry", nil, Classification{Class: ClassIndefinite}},
		{"sentinel ten seconds out", ptr(now.Add(10 * time.Second)), Classification{Class: ClassIndefinite}},
		{"exactly at tolerance", ptr(now.Add(30 * time.Second)), Classification{Class: ClassIndefinite}},
		{"fraction past tolerance", ptr(now.Add(30*time.Second + 900*time.Millisecond)), Classification{Class: ClassIndefinite}},
		{"just past tolerance", ptr(now.Add(31 * time.Second)), Classification{Class: ClassExpiresToday}},
		{"later today", ptr(now.Add(6 * time.Hour)), Classification{Class: ClassExpiresToday}},
		{"three days out", ptr(now.Add(72*time.Hour + time.Minute)), Classification{Class: ClassDaysLeft, Days: 3}},
		{"one day out", ptr(now.Add(25 * time.Hour)), Classification{Class: ClassDaysLeft, Days: 1}},
		{"in the past", ptr(now.Add(-48 * time.Hour)), Classification{Class: ClassIndefinite}},
		{"slightly stale", ptr(now.Add(-time.Minute)), Classification{Class: ClassIndefinite}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.expiry, now)
			if got != tt.want {
				t.Errorf("Classify() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassificationString(t *testing.T) {
	tests := []struct {
		c    Classification
		want string
	}{
		{Classification{Class: ClassIndefinite}, "Indefinite"},
		{Classification{Class: ClassDaysLeft, Days: 4}, "4 day(s) left"},
		{Classification{Class: ClassExpiresToday}, "Expires today"},
		{Classification{Class: ClassExpiredDaysAgo, Days: 2}, "Expired 2 day(s) ago"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLockChoiceRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// An indefinite choice encodes as a near-future sentinel that the
	// classifier decodes back to Indefinite.
	status := Indefinite().lockStatus(now)
	if !status.TemporaryHold {
		t.Fatal("indefinite lock should set the hold flag")
	}
	if got := Classify(status.HoldExpiry, now); got.Class != ClassIndefinite {
		t.Errorf("sentinel classified as %+v, want Indefinite", got)
	}

	until := now.Add(5 * 24 * time.Hour)
	status = Until(until).lockStatus(now)
	if got := Classify(status.HoldExpiry, now); got.Class != ClassDaysLeft || got.Days != 5 {
		t.Errorf("dated lock classified as %+v, want 5 days left", got)
	}
}

func TestIsEffectivelyLocked(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	rec := proto.ObjectRecord{Name: "a"}
	if IsEffectivelyLocked(rec, nil, now) {
		t.Error("bare record should not be locked")
	}

	rec.TemporaryHold = true
	if !IsEffectivelyLocked(rec, nil, now) {
		t.Error("hold flag alone should lock")
	}

	rec = proto.ObjectRecord{Name: "a", ExpirationDate: &future}
	if !IsEffectivelyLocked(rec, nil, now) {
		t.Error("future expiry alone should lock")
	}

	rec = proto.ObjectRecord{Name: "a", ExpirationDate: &past}
	if IsEffectivelyLocked(rec, nil, now) {
		t.Error("lapsed expiry should not lock")
	}

	// A pending unlock wins over the record's hold flag.
	rec = proto.ObjectRecord{Name: "a", TemporaryHold: true}
	pending := unlockStatus(now)
	if IsEffectivelyLocked(rec, &pending, now) {
		t.Error("pending unlock should override the record's hold")
	}

	// A pending lock wins over a bare record.
	rec = proto.ObjectRecord{Name: "a"}
	pendingLock := Indefinite().lockStatus(now)
	if !IsEffectivelyLocked(rec, &pendingLock, now) {
		t.Error("pending lock should override the record")
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lapsed := now.Add(-time.Hour)
	justUnder := now.Add(-20 * time.Second)
	sentinel := now.Add(IndefiniteSentinelOffset)

	if !isExpired(proto.ObjectRecord{Name: "a", ExpirationDate: &lapsed}, now) {
		t.Error("hour-old expiry without hold should be expired")
	}
	if isExpired(proto.ObjectRecord{Name: "a", ExpirationDate: &lapsed, TemporaryHold: true}, now) {
		t.Error("active hold should suppress expiry")
	}
	if isExpired(proto.ObjectRecord{Name: "a", ExpirationDate: &justUnder}, now) {
		t.Error("expiry within the skew window should not be expired")
	}
	if isExpired(proto.ObjectRecord{Name: "a", ExpirationDate: &sentinel}, now) {
		t.Error("the indefinite sentinel must never partition as expired")
	}
	if isExpired(proto.ObjectRecord{Name: "a"}, now) {
		t.Error("no expiry means nothing to lapse")
	}
}
