package mxlink

// Status is the wireless module's association state as last reported by
// its asynchronous status indication. The values are ordered: station
// statuses at StatusStationUp and above count as associated.
type Status uint8

const (
	StatusNone Status = iota
	StatusStationDown
	StatusStationUp
	StatusStationGotIP
	StatusAPDown
	StatusAPUp
)

// IsAssociated reports whether the module holds an association to an
// access point in station mode or beyond.
func (s Status) IsAssociated() bool {
	return s >= StatusStationUp
}

func (s Status) String() (str string) {
	str = "Unknown"
	switch s {
	case StatusNone:
		str = "None"
	case StatusStationDown:
		str = "Station Down"
	case StatusStationUp:
		str = "Station Up"
	case StatusStationGotIP:
		str = "Station Got IP"
	case StatusAPDown:
		str = "AP Down"
	case StatusAPUp:
		str = "AP Up"
	}
	return str
}
