package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseScheduleAcceptsCommonForms(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "0 */5 * * * *", "@every 1h", "@hourly"} {
		schedule, loc, err := parseSchedule(spec, "")
		if err != nil {
			t.Fatalf("spec %q: %v", spec, err)
		}
		if loc != time.UTC {
			t.Fatalf("spec %q: loc=%v want UTC", spec, loc)
		}
		now := time.Date(2026, 6, 1, 12, 0, 1, 0, time.UTC)
		if next := schedule.Next(now); !next.After(now) {
			t.Fatalf("spec %q: next=%s not after now", spec, next)
		}
	}
}

func TestParseScheduleHonorsTimezone(t *testing.T) {
	_, loc, err := parseSchedule("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("parseSchedule: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Fatalf("loc=%v", loc)
	}
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	_, _, err := parseSchedule("not a cron line at all", "")
	if err == nil || !strings.Contains(err.Error(), "invalid cron expression") {
		t.Fatalf("err=%v", err)
	}
	_, _, err = parseSchedule("* * * * *", "Mars/Olympus")
	if err == nil || !strings.Contains(err.Error(), "invalid timezone") {
		t.Fatalf("err=%v", err)
	}
}
