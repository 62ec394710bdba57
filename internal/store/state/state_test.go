package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtfsignal/internal/market"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "state.json"))
	require.NoError(t, err)
	return s
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Empty(t, doc.Symbols)
	assert.True(t, doc.Symbol("EUR_USD").Flat())
	assert.Equal(t, strategy.DirectionNone, doc.Symbol("EUR_USD").Direction)
}

func TestSaveLoadRoundTripResumesPosition(t *testing.T) {
	s := newStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pos := risk.NewPosition("EUR_USD", market.SideLong, 1000, 1.1, 1.095, 1.11, at)
	pos.PeakPrice = 1.106
	pos.TrailingActive = true
	k := 23.5

	var st SymbolState
	st.SetPosition(pos)
	st.Generator = strategy.Snapshot{LastTime: at, PrevK: &k}
	st.LastCycle = at
	require.NoError(t, s.Update(func(d *Document) error {
		d.Account = Account{Balance: 10000, PeakEquity: 10400}
		d.Symbols["EUR_USD"] = st
		return nil
	}))

	doc, err := s.Load()
	require.NoError(t, err)
	got := doc.Symbol("EUR_USD")
	assert.Equal(t, strategy.DirectionLong, got.Direction)
	assert.InDelta(t, 1.1, got.EntryPrice, 0)
	assert.True(t, got.InTrailingZone)
	assert.InDelta(t, 1.106, got.TrailingPeakPrice, 0)
	require.NotNil(t, got.Position)
	assert.Equal(t, pos.ID, got.Position.ID)
	require.NotNil(t, got.Generator.PrevK)
	assert.InDelta(t, 23.5, *got.Generator.PrevK, 0)
	assert.True(t, got.Generator.LastTime.Equal(at))
	assert.InDelta(t, 10400, doc.Account.PeakEquity, 0)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestClearPosition(t *testing.T) {
	s := newStore(t)
	var st SymbolState
	st.SetPosition(risk.NewPosition("GBP_USD", market.SideShort, 1000, 1.27, 1.275, 1.26, time.Now()))
	assert.Equal(t, strategy.DirectionShort, st.Direction)
	require.NoError(t, s.PutSymbol("GBP_USD", st))

	st.SetPosition(nil)
	require.NoError(t, s.PutSymbol("GBP_USD", st))
	doc, err := s.Load()
	require.NoError(t, err)
	got := doc.Symbol("GBP_USD")
	assert.True(t, got.Flat())
	assert.Equal(t, strategy.DirectionNone, got.Direction)
	assert.Zero(t, got.EntryPrice)
}

func TestLoadRejectsInvalidDocument(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	bad := `{"version":1,"symbols":{"EUR_USD":{"direction":"sideways"}}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(bad), 0o644))
	_, err := s.Load()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"version":9,"symbols":{}}`), 0o644))
	_, err = s.Load()
	assert.ErrorContains(t, err, "newer")
}

func TestZeroDirectionNormalised(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.PutSymbol("USD_JPY", SymbolState{}))
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, strategy.DirectionNone, doc.Symbol("USD_JPY").Direction)
}
