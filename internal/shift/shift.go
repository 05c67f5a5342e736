// Package shift computes the plantão (guard shift) on duty.
package shift

import "time"

type Name string

const (
	Alfa    Name = "ALFA"
	Bravo   Name = "BRAVO"
	Charlie Name = "CHARLIE"
	Delta   Name = "DELTA"
)

var rotation = []Name{Alfa, Bravo, Charlie, Delta}

// Manaus has no daylight saving time, so a fixed zone keeps the rotation
// independent of the host's tzdata.
var Manaus = time.FixedZone("AMT", -4*60*60)

const (
	changeHour   = 7
	changeMinute = 30
)

// Reference is the start of an ALFA shift.
var Reference = time.Date(2025, time.January, 1, changeHour, changeMinute, 0, 0, Manaus)

type Shift struct {
	Name  Name
	Start time.Time
	End   time.Time
}

// Current returns the shift on duty at now. Shifts change daily at 07:30
// Manaus time; before that the previous day's shift is still on duty.
func Current(now time.Time) Shift {
	local := now.In(Manaus)
	start := time.Date(local.Year(), local.Month(), local.Day(), changeHour, changeMinute, 0, 0, Manaus)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	days := int(start.Sub(Reference).Round(time.Hour).Hours()) / 24
	idx := ((days % len(rotation)) + len(rotation)) % len(rotation)
	return Shift{Name: rotation[idx], Start: start, End: start.AddDate(0, 0, 1)}
}

func (s Shift) Label() string {
	return "Plantão " + string(s.Name)
}
