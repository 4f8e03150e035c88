package scheduling

import "time"

// GenerateSlots walks the rule's effective window for date in steps of
// SlotMinutes. A step is emitted whenever its start is before the window end,
// so the last slot may run past the end when the window is not a multiple of
// the step. Taken counts overlapping appointments from active, limited to the
// rule's doctor when the rule has one.
func GenerateSlots(rule *ScheduleRule, date time.Time, loc *time.Location, active []*Appointment) []Slot {
	if rule.Closed() || rule.SlotMinutes <= 0 {
		return nil
	}

	start, end := rule.Window()
	var slots []Slot
	for m := start; m < end; m += Clock(rule.SlotMinutes) {
		slotStart := At(date, m, loc)
		slotEnd := slotStart.Add(time.Duration(rule.SlotMinutes) * time.Minute)

		taken := 0
		for _, a := range active {
			if rule.DoctorID != nil && (a.DoctorID == nil || *a.DoctorID != *rule.DoctorID) {
				continue
			}
			if Overlaps(slotStart, slotEnd, a.Start, a.End) {
				taken++
			}
		}

		slots = append(slots, Slot{
			Start:      slotStart,
			End:        slotEnd,
			Capacity:   rule.Capacity,
			Taken:      taken,
			Available:  max(0, rule.Capacity-taken),
			DoctorID:   rule.DoctorID,
			ScheduleID: rule.ID,
		})
	}
	return slots
}
