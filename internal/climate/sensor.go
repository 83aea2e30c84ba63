package climate

import "github.com/benvon/cometblue-bridge/pkg/model"

// SensorDescription describes a read-only value
type SensorDescription struct {
	Key         string
	Name        string
	DeviceClass string
	Unit        string

	value func(s model.Snapshot) *float64
}

// Sensors lists the sensor entities of a thermostat
var Sensors = []SensorDescription{
	{
		Key:         "battery",
		Name:        "Battery",
		DeviceClass: "battery",
		Unit:        "%",
		value: func(s model.Snapshot) *float64 {
			if s.Battery == nil {
				return nil
			}
			return model.Ptr(float64(*s.Battery))
		},
	},
}

// Value reads the sensor from a snapshot
func (d SensorDescription) Value(s model.Snapshot) *float64 {
	return d.value(s)
}
