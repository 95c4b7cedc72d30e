package scheduling

import (
	"testing"

	"github.com/clinic/clinic/pkg/calendar"
)

func cfgFor(start, end string, duration, buffer int) ScheduleConfig {
	s, _ := calendar.ParseClock(start)
	e, _ := calendar.ParseClock(end)
	return ScheduleConfig{
		ID:           7,
		Date:         calendar.MustDate(2025, 6, 10),
		StartTime:    s,
		EndTime:      e,
		SlotDuration: duration,
		Buffer:       buffer,
	}
}

func slotTimes(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Time.String()
	}
	return out
}

func TestGenerateSlots(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ScheduleConfig
		wantCount int
		wantFirst string
		wantLast  string
	}{
		// 16:35 would end at 17:05, past the window.
		{"full day with buffer", cfgFor("09:00", "17:00", 30, 5), 13, "09:00", "16:00"},
		{"exact fit", cfgFor("09:00", "10:00", 30, 0), 2, "09:00", "09:30"},
		{"window shorter than slot", cfgFor("09:00", "09:20", 30, 0), 0, "", ""},
		{"single slot", cfgFor("09:00", "09:30", 30, 10), 1, "09:00", "09:00"},
		{"ends at midnight edge", cfgFor("22:00", "23:59", 60, 0), 1, "22:00", "22:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := GenerateSlots(tt.cfg)
			if len(slots) != tt.wantCount {
				t.Fatalf("expected %d slots, got %d: %v", tt.wantCount, len(slots), slotTimes(slots))
			}
			if tt.wantCount == 0 {
				return
			}
			if got := slots[0].Time.String(); got != tt.wantFirst {
				t.Errorf("first slot: expected %s, got %s", tt.wantFirst, got)
			}
			if got := slots[len(slots)-1].Time.String(); got != tt.wantLast {
				t.Errorf("last slot: expected %s, got %s", tt.wantLast, got)
			}
			for i, s := range slots {
				if s.Index != i || s.ConfigID != tt.cfg.ID || s.Date != tt.cfg.Date {
					t.Errorf("slot %d has wrong identity: %+v", i, s)
				}
				if s.EndTime.Minutes()-s.Time.Minutes() != tt.cfg.SlotDuration {
					t.Errorf("slot %d spans %s-%s", i, s.Time, s.EndTime)
				}
				if s.EndTime.Minutes() > tt.cfg.EndTime.Minutes() {
					t.Errorf("slot %d ends after the window", i)
				}
			}
		})
	}
}

func TestGenerateSlots_Invalid(t *testing.T) {
	for _, cfg := range []ScheduleConfig{
		cfgFor("10:00", "09:00", 30, 0),
		cfgFor("09:00", "09:00", 30, 0),
		cfgFor("09:00", "10:00", 0, 0),
		cfgFor("09:00", "10:00", 30, -1),
		{SlotDuration: 30},
	} {
		if slots := GenerateSlots(cfg); len(slots) != 0 {
			t.Errorf("expected no slots for %+v, got %v", cfg, slotTimes(slots))
		}
	}
}

func TestSlotKey(t *testing.T) {
	slots := GenerateSlots(cfgFor("09:00", "10:00", 30, 0))
	if slots[1].Key() != "7-1" {
		t.Errorf("expected key 7-1, got %s", slots[1].Key())
	}
}

func TestWithinHours(t *testing.T) {
	cfg := cfgFor("09:00", "17:00", 30, 5)
	cases := map[string]bool{
		"08:59": false,
		"09:00": true,
		"09:10": true,
		"16:59": true,
		"17:00": false,
	}
	for clock, want := range cases {
		c, _ := calendar.ParseClock(clock)
		if got := withinHours(cfg, c); got != want {
			t.Errorf("withinHours(%s) = %v, want %v", clock, got, want)
		}
	}
}

func TestAlignedToSlot(t *testing.T) {
	cfg := cfgFor("09:00", "17:00", 30, 5)
	if !alignedToSlot(cfg, calendar.MustClock(9, 35)) {
		t.Error("09:35 should be a slot start")
	}
	if alignedToSlot(cfg, calendar.MustClock(9, 30)) {
		t.Error("09:30 falls in the buffer and is not a slot start")
	}
	if alignedToSlot(cfg, calendar.MustClock(16, 50)) {
		t.Error("16:50 would overrun the window")
	}
}
