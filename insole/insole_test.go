package insole

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSideFromName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Side
	}{
		{"explicit left word", "ORPHE LEFT", SideLeft},
		{"explicit right word", "orphe right", SideRight},
		{"dash marker left", "INS-L", SideLeft},
		{"dash marker right", "INS-R", SideRight},
		{"underscore marker", "CORE_r", SideRight},
		{"space marker", "insole l", SideLeft},
		{"no marker", "INS2035", SideUnknown},
		{"trailing l without separator is not a marker", "METAL", SideUnknown},
		{"empty", "", SideUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SideFromName(tt.input))
		})
	}
}

func TestQuatNorm(t *testing.T) {
	assert.InDelta(t, 1.0, Quat{W: 1}.Norm(), 1e-9)
	assert.InDelta(t, 1.0, Quat{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5}.Norm(), 1e-9)
	assert.InDelta(t, 0.0, Quat{}.Norm(), 1e-9)
}

func TestSessionStateTerminal(t *testing.T) {
	for _, s := range []SessionState{StateIdle, StateScanning, StateConnecting, StateConnected, StateReconnecting} {
		assert.False(t, s.Terminal(), "%s must not be terminal", s)
	}
	assert.True(t, StateDisconnected.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestSessionStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", SessionState(99).String())
}

func TestDeviceHandleString(t *testing.T) {
	h := DeviceHandle{Address: "aa:bb:cc:dd:ee:ff", Name: "INS2035"}
	assert.Equal(t, "INS2035 (aa:bb:cc:dd:ee:ff)", h.String())

	anon := DeviceHandle{Address: "aa:bb:cc:dd:ee:ff"}
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", anon.String())
}

func TestMountString(t *testing.T) {
	m := Mount{Side: SideLeft, Surface: SurfacePlantar}
	assert.Equal(t, "left/plantar", m.String())
}
