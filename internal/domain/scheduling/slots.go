package scheduling

import "github.com/clinic/clinic/pkg/calendar"

// GenerateSlots lays out slot start times from cfg.StartTime, stepping by
// duration plus buffer, keeping every slot that ends at or before EndTime.
func GenerateSlots(cfg ScheduleConfig) []Slot {
	if cfg.SlotDuration <= 0 || cfg.Buffer < 0 || cfg.StartTime.IsZero() || cfg.EndTime.IsZero() {
		return nil
	}
	start, end := cfg.StartTime.Minutes(), cfg.EndTime.Minutes()
	if start >= end {
		return nil
	}

	step := cfg.SlotDuration + cfg.Buffer
	var slots []Slot
	for t := start; t+cfg.SlotDuration <= end; t += step {
		at, err := calendar.ClockFromMinutes(t)
		if err != nil {
			break
		}
		until, err := calendar.ClockFromMinutes(t + cfg.SlotDuration)
		if err != nil {
			break
		}
		slots = append(slots, Slot{
			ConfigID: cfg.ID,
			Date:     cfg.Date,
			Time:     at,
			EndTime:  until,
			Index:    len(slots),
		})
	}
	return slots
}

// withinHours is the permissive membership test: start <= t < end.
func withinHours(cfg ScheduleConfig, t calendar.Clock) bool {
	m := t.Minutes()
	return m >= cfg.StartTime.Minutes() && m < cfg.EndTime.Minutes()
}

func alignedToSlot(cfg ScheduleConfig, t calendar.Clock) bool {
	for _, s := range GenerateSlots(cfg) {
		if s.Time == t {
			return true
		}
	}
	return false
}
