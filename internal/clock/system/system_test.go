package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

var _ monitor.Clock = (*Clock)(nil)

func TestNowIsUTCWallTime(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after), "now %v outside [%v, %v]", got, before, after)
}

func TestNowAdvances(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	require.False(t, second.Before(first))
}
