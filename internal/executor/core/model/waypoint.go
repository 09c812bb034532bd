package model

// DefaultSpeed applies to waypoints stored without a positive speed.
const DefaultSpeed = 0.4

// Waypoint is one ordered motion command of a trajectory.
type Waypoint struct {
	Seq      int     `json:"seq" yaml:"seq"`
	X        float64 `json:"x" yaml:"x"`
	Y        float64 `json:"y" yaml:"y"`
	Speed    float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	NozzleOn bool    `json:"nozzle_on" yaml:"nozzle_on"`
	DwellMs  int64   `json:"dwell_ms,omitempty" yaml:"dwell_ms,omitempty"`
}

// EffectiveSpeed returns Speed, or DefaultSpeed when it is not positive.
func (w Waypoint) EffectiveSpeed() float64 {
	if w.Speed > 0 {
		return w.Speed
	}
	return DefaultSpeed
}

// Trajectory is an ordered waypoint list executions refer to.
type Trajectory struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name,omitempty" yaml:"name,omitempty"`
	Waypoints []Waypoint `json:"waypoints" yaml:"waypoints"`
}
