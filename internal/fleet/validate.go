package fleet

// Geo and telemetry range checks shared by the ledger, the mission service,
// and telemetry ingest. Kept as plain predicates so callers can collect
// violations instead of failing fast.

// ValidLatitude reports whether lat is within [-90, 90].
func ValidLatitude(lat float64) bool { return lat >= -90 && lat <= 90 }

// ValidLongitude reports whether lon is within [-180, 180].
func ValidLongitude(lon float64) bool { return lon >= -180 && lon <= 180 }

// ValidAltitude reports whether alt is non-negative.
func ValidAltitude(alt float64) bool { return alt >= 0 }

// ValidBatteryLevel reports whether level is within [0, 100].
func ValidBatteryLevel(level float64) bool { return level >= 0 && level <= 100 }

// ValidSpeed reports whether speed is non-negative.
func ValidSpeed(speed float64) bool { return speed >= 0 }

// ValidGPSAccuracy reports whether acc is non-negative.
func ValidGPSAccuracy(acc float64) bool { return acc >= 0 }

// ValidHeading reports whether hdg is within [0, 360].
func ValidHeading(hdg float64) bool { return hdg >= 0 && hdg <= 360 }

// Violations accumulates field-level failures across checks.
type Violations []Violation

// Check records a violation when ok is false.
func (v *Violations) Check(ok bool, field, message string) {
	if !ok {
		*v = append(*v, Violation{Field: field, Message: message})
	}
}

// Err returns a validation error when any violation was recorded, nil
// otherwise.
func (v Violations) Err() error {
	if len(v) == 0 {
		return nil
	}
	return Invalid(v)
}

// CheckPosition validates a full coordinate triple.
func (v *Violations) CheckPosition(lat, lon, alt float64) {
	v.Check(ValidLatitude(lat), "latitude", "must be between -90 and 90")
	v.Check(ValidLongitude(lon), "longitude", "must be between -180 and 180")
	v.Check(ValidAltitude(alt), "altitude", "cannot be negative")
}
