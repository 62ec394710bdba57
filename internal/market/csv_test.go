package market

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSVParsesISOAndEpoch(t *testing.T) {
	data := `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,1.10,1.11,1.09,1.105,100
2024-01-01 01:00:00 UTC,1.105,1.12,1.10,1.115,150
1704074400,1.115,1.13,1.11,1.12,90
1704078000000,1.12,1.125,1.115,1.118,80
`
	cs, err := LoadCSV(strings.NewReader(data), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cs, 4)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range cs {
		assert.Equal(t, base.Add(time.Duration(i)*time.Hour).UnixMilli(), c.OpenTime, "row %d", i)
		assert.Equal(t, c.OpenTime+time.Hour.Milliseconds()-1, c.CloseTime)
	}
	assert.Equal(t, 150.0, cs[1].Volume)
}

func TestLoadCSVDefaultsMissingVolume(t *testing.T) {
	data := "time,open,high,low,close\n2024-01-01T00:00:00Z,1,2,0.5,1.5\n"
	cs, err := LoadCSV(strings.NewReader(data), LoadOptions{DefaultVolume: 7})
	require.NoError(t, err)
	assert.Equal(t, 7.0, cs[0].Volume)

	cs, err = LoadCSV(strings.NewReader(data), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, cs[0].Volume)
}

func TestLoadCSVResortsOrRejects(t *testing.T) {
	data := `time,open,high,low,close,volume
2024-01-01T02:00:00Z,1,2,0.5,1.5,1
2024-01-01T00:00:00Z,1,2,0.5,1.5,1
2024-01-01T01:00:00Z,1,2,0.5,1.5,1
`
	cs, err := LoadCSV(strings.NewReader(data), LoadOptions{})
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Less(t, cs[0].OpenTime, cs[1].OpenTime)
	assert.Less(t, cs[1].OpenTime, cs[2].OpenTime)

	_, err = LoadCSV(strings.NewReader(data), LoadOptions{Strict: true})
	assert.ErrorIs(t, err, ErrNotSorted)
}

func TestLoadCSVRejectsBadData(t *testing.T) {
	cases := map[string]struct {
		data string
		want error
	}{
		"missing close column": {"time,open,high,low\n2024-01-01,1,2,0.5\n", ErrMissingColumn},
		"empty high":           {"time,open,high,low,close\n2024-01-01,1,,0.5,1\n", ErrMalformedRow},
		"high below low":       {"time,open,high,low,close\n2024-01-01,1,0.4,0.5,1\n", ErrMalformedRow},
		"bad time":             {"time,open,high,low,close\nyesterday,1,2,0.5,1\n", ErrMalformedRow},
		"duplicate time":       {"time,open,high,low,close\n2024-01-01,1,2,0.5,1\n2024-01-01,1,2,0.5,1\n", ErrDuplicateTime},
		"no rows":              {"time,open,high,low,close\n", ErrEmptyData},
		"empty input":          {"", ErrEmptyData},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(tc.data), LoadOptions{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	in := Candles{
		{OpenTime: 1704067200000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{OpenTime: 1704070800000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in))
	out, err := LoadCSV(&buf, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[1].OpenTime, out[1].OpenTime)
	assert.Equal(t, in[1].Close, out[1].Close)
}
