package payload

// Path is a sequence of object keys leading to a value.
type Path []string

// Key builds a Path.
func Key(keys ...string) Path { return Path(keys) }

// Accepted key aliases, in lookup order.
var (
	LatitudeAliases    = []Path{Key("lat"), Key("latitude"), Key("gps", "lat"), Key("gps", "latitude")}
	LongitudeAliases   = []Path{Key("lng"), Key("longitude"), Key("gps", "lng"), Key("gps", "lon"), Key("gps", "longitude")}
	TemperatureAliases = []Path{Key("temp"), Key("temperature")}
	BatteryAliases     = []Path{Key("battery"), Key("battery_level")}
	TimestampAliases   = []Path{Key("ts"), Key("timestamp")}
	RSSIAliases        = []Path{Key("rssi")}
	SNRAliases         = []Path{Key("snr")}
)

// Lookup returns the first aliased value that is present and not null.
func Lookup(decoded Node, aliases ...Path) Node {
	if !decoded.IsObject() {
		return Node{}
	}
	for _, alias := range aliases {
		if value := decoded.Path(alias...); value.Present() {
			return value
		}
	}
	return Node{}
}

// ExtractField resolves the first present alias and coerces it.
func ExtractField(decoded Node, aliases ...Path) (float64, bool) {
	return Coerce(Lookup(decoded, aliases...))
}

// ExtractFieldPtr is ExtractField returning nil when absent.
func ExtractFieldPtr(decoded Node, aliases ...Path) *float64 {
	return CoercePtr(Lookup(decoded, aliases...))
}

// ExtractPosition resolves latitude and longitude independently. The pair is
// reported only when both sides coerce.
func ExtractPosition(decoded Node) (lat, lng float64, ok bool) {
	lat, latOK := ExtractField(decoded, LatitudeAliases...)
	lng, lngOK := ExtractField(decoded, LongitudeAliases...)
	if !latOK || !lngOK {
		return 0, 0, false
	}
	return lat, lng, true
}
