package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Expansion evaluates the recurrence rule on floating wall-clock time: the
// series start is stripped to its local wall-clock fields, the rule runs on
// those, and every result is reconstructed field-by-field in the target
// timezone. A rule like "every Monday at 2 PM" therefore stays 2 PM local
// across a daylight-saving transition instead of drifting with the UTC
// offset. Timezone conversion happens only at this boundary, never inside
// the rule evaluation.

// toFloating projects an instant onto its wall-clock fields in loc,
// reinterpreted as UTC.
func toFloating(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), 0, time.UTC)
}

// fromFloating reconstructs an absolute instant from floating wall-clock
// fields in loc.
func fromFloating(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// expandRule returns the absolute occurrence instants of rule between
// dtstart and until, inclusive. A horizon before the series start yields no
// occurrences and no error.
func expandRule(rule string, dtstart time.Time, loc *time.Location, until time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRule, err.Error())
	}

	floatStart := toFloating(dtstart, loc)
	opt.Dtstart = floatStart

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRule, err.Error())
	}

	floatUntil := toFloating(until, loc)
	if floatUntil.Before(floatStart) {
		return nil, nil
	}

	occurrences := r.Between(floatStart, floatUntil, true)
	out := make([]time.Time, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, fromFloating(occ, loc))
	}
	return out, nil
}
