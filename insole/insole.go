// Package insole defines the domain model for smart-insole telemetry:
// device handles, session states, decoded sensor samples and status
// records, and the event union the telemetry stream emits.
package insole

import "strings"

// Side tells the two insoles of a pair apart.
type Side int

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// Surface is where the sensor unit is mounted on the shoe.
type Surface int

const (
	SurfaceUnknown Surface = iota
	SurfacePlantar         // under the foot, inside the insole
	SurfaceDorsal          // on top of the shoe
)

func (s Surface) String() string {
	switch s {
	case SurfacePlantar:
		return "plantar"
	case SurfaceDorsal:
		return "dorsal"
	default:
		return "unknown"
	}
}

// Mount is the configured mounting of the sensor unit, reported by the
// device information record.
type Mount struct {
	Side    Side
	Surface Surface
}

func (m Mount) String() string {
	return m.Side.String() + "/" + m.Surface.String()
}

// DeviceHandle identifies one physical insole. Immutable; created on a
// scan match or from a user-supplied address.
type DeviceHandle struct {
	Address string
	Name    string
	Side    Side   // parsed from the advertised name, SideUnknown if absent
	Model   string // schema model name, "" when no model matched
}

func (h DeviceHandle) String() string {
	if h.Name == "" {
		return h.Address
	}
	return h.Name + " (" + h.Address + ")"
}

// SideFromName extracts a side marker from an advertised device name.
// Recognizes "left"/"right" words and trailing L/R markers such as
// "INS-L" or "CORE_R".
func SideFromName(name string) Side {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "":
		return SideUnknown
	case strings.Contains(n, "left"):
		return SideLeft
	case strings.Contains(n, "right"):
		return SideRight
	}
	for _, sep := range []string{"-", "_", " "} {
		if strings.HasSuffix(n, sep+"l") {
			return SideLeft
		}
		if strings.HasSuffix(n, sep+"r") {
			return SideRight
		}
	}
	return SideUnknown
}
