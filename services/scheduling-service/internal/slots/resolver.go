package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// TemplateStore reads a doctor's recurring weekly working pattern.
type TemplateStore interface {
	WeeklyWindows(ctx context.Context, doctorID string) ([]model.WeeklyWindow, error)
}

// OverrideStore reads date-specific exceptions, keyed by doctor-local date.
type OverrideStore interface {
	OverridesInRange(ctx context.Context, doctorID, fromDate, toDate string) (map[string]model.Override, error)
}

// BlockingLister reads appointments in blocking statuses intersecting a range.
type BlockingLister interface {
	ListBlocking(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error)
}

type Config struct {
	Granularity time.Duration // slot grid step, e.g. 15m
	HorizonDays int           // furthest bookable calendar date, in days from now
	MinLead     time.Duration // earliest bookable instant is now + MinLead
}

// Resolver merges the weekly template, overrides and the booking ledger into
// bookable slots. It performs no writes and is safe for concurrent use; it is
// the read path and may be served from a replica, since the coordinator
// re-validates at commit time.
type Resolver struct {
	templates TemplateStore
	overrides OverrideStore
	ledger    BlockingLister
	cfg       Config
}

func NewResolver(templates TemplateStore, overrides OverrideStore, ledger BlockingLister, cfg Config) *Resolver {
	if cfg.Granularity <= 0 {
		cfg.Granularity = 15 * time.Minute
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}
	return &Resolver{templates: templates, overrides: overrides, ledger: ledger, cfg: cfg}
}

func (r *Resolver) Config() Config {
	return r.cfg
}

// DaySlots is the resolved slot list for one doctor-local calendar date.
type DaySlots struct {
	Date  string     `json:"date"`
	Slots []Interval `json:"slots"`
}

// Resolve returns bookable slots for every date in [fromDate, toDate],
// inclusive, sized to the service duration. Dates inside the lead-time buffer
// or beyond the booking horizon yield no slots.
func (r *Resolver) Resolve(ctx context.Context, doctor model.Doctor, fromDate, toDate string, duration time.Duration, now time.Time) ([]DaySlots, error) {
	if duration <= 0 {
		return nil, model.Validationf("service duration must be positive, got %s", duration)
	}

	loc := doctor.Location()
	from, err := time.ParseInLocation(model.DateFormat, fromDate, loc)
	if err != nil {
		return nil, model.Validationf("invalid from date %q", fromDate)
	}
	to, err := time.ParseInLocation(model.DateFormat, toDate, loc)
	if err != nil {
		return nil, model.Validationf("invalid to date %q", toDate)
	}
	if to.Before(from) {
		return nil, model.Validationf("date range end %s precedes start %s", toDate, fromDate)
	}

	overrides, err := r.overrides.OverridesInRange(ctx, doctor.ID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	weekly, err := r.templates.WeeklyWindows(ctx, doctor.ID)
	if err != nil {
		return nil, fmt.Errorf("load weekly availability: %w", err)
	}

	// One ledger query covers the whole range; per-day work then filters it.
	rangeEnd := to.AddDate(0, 0, 1)
	blocking, err := r.ledger.ListBlocking(ctx, doctor.ID, from, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load blocking appointments: %w", err)
	}
	busy := make([]Interval, 0, len(blocking))
	for _, a := range blocking {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}

	var out []DaySlots
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(model.DateFormat)
		free := r.freeForDay(day, overrides[date], weekly, busy, now)

		daySlots := DaySlots{Date: date}
		for _, f := range free {
			daySlots.Slots = append(daySlots.Slots, Slice(f, duration, r.cfg.Granularity, day)...)
		}
		out = append(out, daySlots)
	}
	return out, nil
}

// FreeIntervals returns the free (unsliced) working sub-intervals for a single
// doctor-local date. The booking coordinator uses it as the advisory pre-check.
func (r *Resolver) FreeIntervals(ctx context.Context, doctor model.Doctor, date string, now time.Time) ([]Interval, error) {
	loc := doctor.Location()
	day, err := time.ParseInLocation(model.DateFormat, date, loc)
	if err != nil {
		return nil, model.Validationf("invalid date %q", date)
	}

	overrides, err := r.overrides.OverridesInRange(ctx, doctor.ID, date, date)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	weekly, err := r.templates.WeeklyWindows(ctx, doctor.ID)
	if err != nil {
		return nil, fmt.Errorf("load weekly availability: %w", err)
	}
	blocking, err := r.ledger.ListBlocking(ctx, doctor.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load blocking appointments: %w", err)
	}
	busy := make([]Interval, 0, len(blocking))
	for _, a := range blocking {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}

	return r.freeForDay(day, overrides[date], weekly, busy, now), nil
}

// freeForDay applies the per-date algorithm: lead/horizon cutoffs, override
// precedence, weekly template union, then subtraction of blocked time.
// day is local midnight for the date in question.
func (r *Resolver) freeForDay(day time.Time, override model.Override, weekly []model.WeeklyWindow, busy []Interval, now time.Time) []Interval {
	dayEnd := day.AddDate(0, 0, 1)

	earliest := now.Add(r.cfg.MinLead)
	if !dayEnd.After(earliest) {
		return nil // whole date inside the lead-time buffer
	}
	horizon := now.AddDate(0, 0, r.cfg.HorizonDays)
	if day.After(horizon) {
		return nil // beyond the booking horizon
	}

	var working []Interval
	switch override.Kind {
	case model.OverrideDayOff:
		return nil
	case model.OverrideCustomHours:
		working = []Interval{minuteWindow(day, override.StartMinute, override.EndMinute)}
	default:
		for _, w := range weekly {
			if w.Weekday != day.Weekday() {
				continue
			}
			working = append(working, minuteWindow(day, w.StartMinute, w.EndMinute))
		}
		working = Merge(working)
	}

	var free []Interval
	for _, w := range working {
		// Clip the working window so nothing inside the lead-time
		// buffer is offered.
		if w.Start.Before(earliest) {
			w.Start = earliest
		}
		if !w.Valid() {
			continue
		}
		free = append(free, Subtract(w, busy)...)
	}
	return free
}

// minuteWindow converts minutes-from-local-midnight to an absolute interval.
// Using Add rather than wall-clock construction keeps DST-shifted days sane.
func minuteWindow(day time.Time, startMinute, endMinute int) Interval {
	return Interval{
		Start: day.Add(time.Duration(startMinute) * time.Minute),
		End:   day.Add(time.Duration(endMinute) * time.Minute),
	}
}
