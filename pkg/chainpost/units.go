package chainpost

import "fmt"

var defaultUnits = map[string]string{
	"temperature": "celsius",
	"humidity":    "percent",
	"illuminance": "lux",
	"audio_level": "dBFS",
}

// LookupUnitByMetric returns the unit a new sensor for metric is created with
// when the caller does not name one.
func LookupUnitByMetric(metric string) string {
	if unit, ok := defaultUnits[metric]; ok {
		return unit
	}
	return fmt.Sprintf("%s units", metric)
}
