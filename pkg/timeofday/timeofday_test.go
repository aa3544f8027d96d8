package timeofday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "18:00", want: "18:00"},
		{in: "06:30:15", want: "06:30:15"},
		{in: " 23:00 ", want: "23:00"},
		{in: "18:00:00.000000", want: "18:00"},
		{in: "24:00", wantErr: true},
		{in: "7:00", wantErr: true},
		{in: "18", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidTimeOfDay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestSubReportsWraparound(t *testing.T) {
	got, ok := MustParse("18:00").Sub(2 * time.Hour)
	assert.True(t, ok)
	assert.Equal(t, "16:00", got.String())

	got, ok = MustParse("01:30").Sub(2 * time.Hour)
	assert.False(t, ok)
	assert.Equal(t, "23:30", got.String())
}

func TestOnAnchorsToDate(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	got := MustParse("18:00").On(date, loc)

	assert.Equal(t, time.Date(2026, 3, 14, 18, 0, 0, 0, loc), got)
}

func TestNullScan(t *testing.T) {
	var n Null
	require.NoError(t, n.Scan(nil))
	assert.False(t, n.Valid)
	assert.Nil(t, n.Ptr())

	require.NoError(t, n.Scan([]byte("09:15:00")))
	assert.True(t, n.Valid)
	assert.Equal(t, "09:15", n.Ptr().String())

	require.NoError(t, n.Scan(time.Date(0, 1, 1, 7, 45, 0, 0, time.UTC)))
	assert.Equal(t, "07:45", n.Time.String())

	value, err := NullFrom(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}
