package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowedTransition(t *testing.T) {
	cases := []struct {
		from, to EventStatus
		want     bool
	}{
		{EventUpcoming, EventInProgress, true},
		{EventInProgress, EventCalculating, true},
		{EventCalculating, EventAwaitingPayment, true},
		{EventAwaitingPayment, EventCompleted, true},
		{EventUpcoming, EventCalculating, true},

		{EventInProgress, EventUpcoming, false},
		{EventCompleted, EventAwaitingPayment, false},
		{EventCalculating, EventInProgress, false},
		{EventUpcoming, EventUpcoming, false},

		{EventUpcoming, EventCanceled, true},
		{EventInProgress, EventCanceled, true},
		{EventAwaitingPayment, EventCanceled, true},
		{EventCompleted, EventCanceled, false},
		{EventCanceled, EventCanceled, false},
		{EventCanceled, EventUpcoming, false},

		{EventStatus("bogus"), EventInProgress, false},
		{EventUpcoming, EventStatus("bogus"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, AllowedTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestEventSessionBounds(t *testing.T) {
	base := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	e := &Event{
		Courts: []CourtSession{
			{CourtNumber: 2, StartTime: base.Add(time.Hour), EndTime: base.Add(3 * time.Hour)},
			{CourtNumber: 1, StartTime: base, EndTime: base.Add(2 * time.Hour)},
		},
	}
	assert.Equal(t, base, e.FirstStart())
	assert.Equal(t, base.Add(3*time.Hour), e.LastEnd())

	empty := &Event{}
	assert.True(t, empty.FirstStart().IsZero())
	assert.True(t, empty.LastEnd().IsZero())
}
