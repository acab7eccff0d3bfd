package types

import "time"

// Telemetry is a reading set published by a weather station gateway.
type Telemetry struct {
	StationID   string    `json:"station_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	Humidity    *float64  `json:"humidity_pct,omitempty"`
	Pressure    *float64  `json:"pressure_hpa,omitempty"`
	Battery     *float64  `json:"battery_v,omitempty"`
	Sequence    *int      `json:"sequence,omitempty"`
}

// Reading is one metric of a Telemetry message, named the way it is stored as a
// sensor on the Chain site.
type Reading struct {
	Metric string
	Unit   string
	Value  float64
}

// Readings flattens t into one Reading per value present, in a fixed order.
func (t Telemetry) Readings() []Reading {
	fields := []struct {
		metric string
		unit   string
		value  *float64
	}{
		{"temperature", "celsius", t.Temperature},
		{"humidity", "percent", t.Humidity},
		{"pressure", "hPa", t.Pressure},
		{"battery_voltage", "V", t.Battery},
	}

	out := make([]Reading, 0, len(fields))
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		out = append(out, Reading{Metric: f.metric, Unit: f.unit, Value: *f.value})
	}
	return out
}
