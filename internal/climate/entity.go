package climate

import (
	"strings"
	"unicode"
)

// Slugify lower-cases name and replaces every run of other characters
// than letters and digits with a single underscore.
func Slugify(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// ClimateEntityID returns the entity id of the climate entity of a device
func ClimateEntityID(name string) string {
	return "climate." + Slugify(name)
}

// NumberEntityID returns the entity id of a number entity
func NumberEntityID(name, key string) string {
	return "number." + Slugify(name) + "_" + key
}

// SensorEntityID returns the entity id of a sensor entity
func SensorEntityID(name, key string) string {
	return "sensor." + Slugify(name) + "_" + key
}
