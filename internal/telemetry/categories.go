package telemetry

// Category names a fixed subset of telemetry fields delivered together as
// one event. Membership is known ahead of time; it is never derived from
// the wire data.
type Category string

const (
	CategoryPosition    Category = "position"
	CategoryOrientation Category = "orientation"
	CategoryGains       Category = "gains"
	CategoryStatus      Category = "status"
	CategoryChannels    Category = "channels"
)

var categoryOrder = []Category{
	CategoryPosition,
	CategoryOrientation,
	CategoryGains,
	CategoryStatus,
	CategoryChannels,
}

var categoryFields = map[Category][]string{
	CategoryPosition:    {"lat", "lon", "alt", "heading", "speed"},
	CategoryOrientation: {"roll", "pitch", "yaw"},
	CategoryGains:       {"kp", "ki", "kd"},
	CategoryStatus:      {"battery", "mode", "armed", "rssi"},
	CategoryChannels:    {"ch1", "ch2", "ch3", "ch4", "ch5", "ch6", "ch7", "ch8"},
}

// Categories returns every category in publication order.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// CategoryFields returns the field names belonging to a category.
func CategoryFields(c Category) []string {
	fields := categoryFields[c]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
