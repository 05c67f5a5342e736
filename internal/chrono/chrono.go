// Package chrono orders dashboard records by when they happened.
package chrono

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/phillip-england/registro/internal/registro"
)

const instantLayout = "2006-01-02T15:04"

// ParseInstant turns a dd/mm/yyyy date and an optional hh:mm time into an
// instant. A missing time means 00:00. ok is false when the date is missing
// or malformed.
func ParseInstant(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if !registro.Present(date) {
		return time.Time{}, false
	}
	parts := strings.Split(date, "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	day, errDay := strconv.Atoi(parts[0])
	month, errMonth := strconv.Atoi(parts[1])
	year, errYear := strconv.Atoi(parts[2])
	if errDay != nil || errMonth != nil || errYear != nil {
		return time.Time{}, false
	}
	// Rejects year-first input such as 2024/01/01.
	if day < 1 || day > 31 || month < 1 || month > 12 || year < 1 {
		return time.Time{}, false
	}

	hhmm := "00:00"
	if registro.Present(clock) {
		fields := strings.Fields(clock)
		hhmm = fields[len(fields)-1]
		if len(hhmm) > 5 {
			hhmm = hhmm[:5]
		}
	}

	iso := fmt.Sprintf("%04d-%02d-%02dT%s", year, month, day, hhmm)
	parsed, err := time.Parse(instantLayout, iso)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func EntryInstant(r registro.Record) (time.Time, bool) {
	return ParseInstant(r.EntryDate(), r.HoraEntrada)
}

func ExitInstant(r registro.Record) (time.Time, bool) {
	return ParseInstant(r.DataSaida, r.HoraSaida)
}

// Compare orders records with an entry instant first, by that instant. Two
// records without entries fall back to their exit instants; anything else
// compares equal.
func Compare(a, b registro.Record) int {
	entryA, okA := EntryInstant(a)
	entryB, okB := EntryInstant(b)
	switch {
	case okA && okB:
		return entryA.Compare(entryB)
	case okA:
		return -1
	case okB:
		return 1
	}

	exitA, okA := ExitInstant(a)
	exitB, okB := ExitInstant(b)
	if okA && okB {
		return exitA.Compare(exitB)
	}
	return 0
}

// Sort returns a stably sorted copy of records.
func Sort(records []registro.Record) []registro.Record {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, Compare)
	return sorted
}
