package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameUTCDay(t *testing.T) {
	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want bool
	}{
		{
			name: "same instant",
			a:    time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
			b:    time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "same day different hours",
			a:    time.Date(2025, 3, 14, 0, 0, 1, 0, time.UTC),
			b:    time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC),
			want: true,
		},
		{
			name: "one second across midnight",
			a:    time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC),
			b:    time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "same wall-clock day only after UTC conversion",
			a:    time.Date(2025, 3, 15, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)),
			b:    time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SameUTCDay(tt.a, tt.b))
		})
	}
}

func TestEffective_ResetsOnDayRollover(t *testing.T) {
	yesterday := time.Date(2025, 3, 13, 22, 0, 0, 0, time.UTC)
	today := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	stored := Counters{Ads: 999, Spins: 999}
	assert.Equal(t, Counters{}, Effective(stored, yesterday, today))
	assert.Equal(t, stored, Effective(stored, today, today.Add(time.Hour)))
}

func TestGate_AdmitAd(t *testing.T) {
	gate := Gate{AdMax: 3, SpinMax: 2}
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		counters   Counters
		lastUpdate time.Time
		want       Counters
		wantErr    bool
	}{
		{
			name:       "first ad of the day",
			counters:   Counters{},
			lastUpdate: now,
			want:       Counters{Ads: 1},
		},
		{
			name:       "one below ceiling",
			counters:   Counters{Ads: 2, Spins: 1},
			lastUpdate: now,
			want:       Counters{Ads: 3, Spins: 1},
		},
		{
			name:       "at ceiling",
			counters:   Counters{Ads: 3},
			lastUpdate: now,
			wantErr:    true,
		},
		{
			name:       "above ceiling from legacy data",
			counters:   Counters{Ads: 10},
			lastUpdate: now,
			wantErr:    true,
		},
		{
			name:       "ceiling reached yesterday resets both counters",
			counters:   Counters{Ads: 3, Spins: 2},
			lastUpdate: now.AddDate(0, 0, -1),
			want:       Counters{Ads: 1, Spins: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gate.AdmitAd(tt.counters, tt.lastUpdate, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrExceeded)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_AdmitSpin_IndependentOfAdCounter(t *testing.T) {
	gate := Gate{AdMax: 1, SpinMax: 2}
	now := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	// Ad ceiling already hit; spins must still be admitted.
	got, err := gate.AdmitSpin(Counters{Ads: 1, Spins: 0}, now, now)
	require.NoError(t, err)
	assert.Equal(t, Counters{Ads: 1, Spins: 1}, got)

	got, err = gate.AdmitSpin(got, now, now)
	require.NoError(t, err)
	assert.Equal(t, Counters{Ads: 1, Spins: 2}, got)

	_, err = gate.AdmitSpin(got, now, now)
	assert.ErrorIs(t, err, ErrExceeded)
}
