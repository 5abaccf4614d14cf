package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChangeIDSub(t *testing.T) {
	id := ChangeID(1000)
	require.Equal(t, ChangeID(940), id.Sub(time.Minute))
	require.Equal(t, NoChangeID, id.Sub(time.Hour))
	require.Equal(t, NoChangeID, id.Sub(1000*time.Second))
}

func TestChangeIDFromTime(t *testing.T) {
	now := time.Unix(1494667311, 500)
	id := ChangeIDFromTime(now)
	require.Equal(t, ChangeID(1494667311), id)
	require.True(t, id.Time().Equal(time.Unix(1494667311, 0)))
}
