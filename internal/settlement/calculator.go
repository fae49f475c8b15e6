// Package settlement turns a final event roster into a per-player bill.
package settlement

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shuttleday/platform/internal/domain"
)

// Totals aggregates a settlement run.
type Totals struct {
	CourtFees       decimal.Decimal
	ShuttlecockFees decimal.Decimal
	PenaltyFees     decimal.Decimal
	Grand           decimal.Decimal
}

// Calculate produces the per-player cost breakdown for a finished event.
//
// Court time is billed per whole hour: each hour's cost (hourly rate times the
// number of courts in play) is split evenly across the players active during
// that hour. Shuttlecock cost is a flat amortization across every played
// player regardless of hours. Canceled players flagged with a penalty pay
// exactly the penalty fee and nothing else; waitlisted players are excluded
// from billing entirely.
//
// The function is pure and deterministic: no clock, no randomness, output
// ordered by player ID. Intermediate divisions stay unrounded; only each
// player's final total (and the aggregates) are rounded to 2 decimal places.
func Calculate(players []domain.Registration, sessions []domain.CourtSession, costs domain.CostParams) ([]domain.PlayerBreakdown, Totals) {
	var played, penalized []domain.Registration
	for _, p := range players {
		switch p.Status {
		case domain.RegistrationRegistered:
			played = append(played, p)
		case domain.RegistrationCanceled:
			if p.IsPenalty {
				penalized = append(penalized, p)
			}
		}
	}

	hours := eventHours(sessions)
	eventStart, eventEnd := sessionBounds(sessions)

	// Per-hour active cohorts.
	active := make(map[time.Time][]int, len(hours))
	for i, p := range played {
		for _, h := range playerHours(p, hours, eventStart, eventEnd) {
			active[h] = append(active[h], i)
		}
	}

	courtFees := make([]decimal.Decimal, len(played))
	hourLines := make([][]domain.HourLine, len(played))
	hoursPlayed := make([]int, len(played))

	for _, h := range hours {
		cohort := active[h.start]
		if len(cohort) == 0 {
			continue
		}
		hourCost := costs.CourtHourlyRate.Mul(decimal.NewFromInt(int64(h.courts)))
		perPlayer := hourCost.Div(decimal.NewFromInt(int64(len(cohort))))
		for _, i := range cohort {
			courtFees[i] = courtFees[i].Add(perPlayer)
			hoursPlayed[i]++
			hourLines[i] = append(hourLines[i], domain.HourLine{
				Hour:             h.start,
				PlayersInSession: len(cohort),
				CostPerPlayer:    perPlayer,
			})
		}
	}

	var shuttlePerPlayer decimal.Decimal
	if len(played) > 0 {
		shuttleTotal := costs.ShuttlecockPrice.Mul(decimal.NewFromInt(int64(costs.ShuttlecockCount)))
		shuttlePerPlayer = shuttleTotal.Div(decimal.NewFromInt(int64(len(played))))
	}

	var out []domain.PlayerBreakdown
	var totals Totals

	for i, p := range played {
		total := courtFees[i].Add(shuttlePerPlayer).Round(2)
		out = append(out, domain.PlayerBreakdown{
			PlayerID:        p.ID,
			CourtFee:        courtFees[i],
			ShuttlecockFee:  shuttlePerPlayer,
			PenaltyFee:      decimal.Zero,
			TotalAmount:     total,
			HoursPlayed:     hoursPlayed[i],
			PerHourSessions: hourLines[i],
		})
		totals.CourtFees = totals.CourtFees.Add(courtFees[i])
		totals.ShuttlecockFees = totals.ShuttlecockFees.Add(shuttlePerPlayer)
		totals.Grand = totals.Grand.Add(total)
	}

	for _, p := range penalized {
		out = append(out, domain.PlayerBreakdown{
			PlayerID:       p.ID,
			CourtFee:       decimal.Zero,
			ShuttlecockFee: decimal.Zero,
			PenaltyFee:     costs.PenaltyFee,
			TotalAmount:    costs.PenaltyFee.Round(2),
			HoursPlayed:    0,
		})
		totals.PenaltyFees = totals.PenaltyFees.Add(costs.PenaltyFee)
		totals.Grand = totals.Grand.Add(costs.PenaltyFee.Round(2))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PlayerID.String() < out[j].PlayerID.String()
	})

	totals.CourtFees = totals.CourtFees.Round(2)
	totals.ShuttlecockFees = totals.ShuttlecockFees.Round(2)
	totals.PenaltyFees = totals.PenaltyFees.Round(2)
	totals.Grand = totals.Grand.Round(2)
	return out, totals
}

// hourSlot is one whole hour of the event with the number of courts in play.
type hourSlot struct {
	start  time.Time
	courts int
}

// eventHours unions all sessions' [startHour, endHour) ranges, counting how
// many courts cover each hour. Returned sorted.
func eventHours(sessions []domain.CourtSession) []hourSlot {
	counts := make(map[time.Time]int)
	for _, s := range sessions {
		for h := floorHour(s.StartTime); h.Before(ceilHour(s.EndTime)); h = h.Add(time.Hour) {
			counts[h]++
		}
	}
	out := make([]hourSlot, 0, len(counts))
	for h, n := range counts {
		out = append(out, hourSlot{start: h, courts: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

// playerHours derives a player's whole-hour participation window, clipped to
// the event's hour slots. A missing preference means the full event window; a
// partial-hour overlap counts as the whole hour.
func playerHours(p domain.Registration, hours []hourSlot, eventStart, eventEnd time.Time) []time.Time {
	start, end := eventStart, eventEnd
	if p.StartTime != nil {
		start = *p.StartTime
	}
	if p.EndTime != nil {
		end = *p.EndTime
	}
	start, end = floorHour(start), ceilHour(end)

	var out []time.Time
	for _, h := range hours {
		if !h.start.Before(start) && h.start.Before(end) {
			out = append(out, h.start)
		}
	}
	return out
}

func sessionBounds(sessions []domain.CourtSession) (time.Time, time.Time) {
	var start, end time.Time
	for _, s := range sessions {
		if start.IsZero() || s.StartTime.Before(start) {
			start = s.StartTime
		}
		if s.EndTime.After(end) {
			end = s.EndTime
		}
	}
	return start, end
}

func floorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func ceilHour(t time.Time) time.Time {
	f := floorHour(t)
	if f.Equal(t.UTC()) {
		return f
	}
	return f.Add(time.Hour)
}
