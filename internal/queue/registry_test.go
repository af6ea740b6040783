package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAvailabilityIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.SetAvailability("doc-1", true))
	assert.False(t, r.SetAvailability("doc-1", true))
	assert.True(t, r.IsOnline("doc-1"))

	assert.True(t, r.SetAvailability("doc-1", false))
	assert.False(t, r.IsOnline("doc-1"))
}

func TestUnknownDoctorIsOffline(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.IsOnline("doc-404"))
}

func TestSnapshotIsOrdered(t *testing.T) {
	r := NewRegistry()

	r.SetAvailability("doc-b", true)
	r.SetAvailability("doc-a", false)
	r.SetAvailability("doc-c", true)

	all := r.Snapshot()
	require.Len(t, all, 3)
	assert.Equal(t, "doc-a", string(all[0].DoctorID))
	assert.Equal(t, "doc-b", string(all[1].DoctorID))
	assert.Equal(t, "doc-c", string(all[2].DoctorID))
	assert.False(t, all[0].IsOnline)
	assert.True(t, all[1].IsOnline)
}
