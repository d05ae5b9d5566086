package telescope

import (
	"math"
	"time"
)

// j2000 is 2000-01-01 12:00 UT.
var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// LocalSiderealTime returns the mean local sidereal time in hours for an
// observer at longitude lon (degrees, east positive). Good to about a second,
// which is plenty for pointing a dome slit.
func LocalSiderealTime(t time.Time, lon float64) float64 {
	d := t.Sub(j2000).Hours() / 24
	gmst := 18.697374558 + 24.06570982441908*d
	return wrapHours(gmst+lon/15, 0)
}

// HourAngle returns lst - ra in [-12, 12) hours.
func HourAngle(lst, ra float64) float64 {
	return wrapHours(lst-ra, -12)
}

// wrapHours reduces h into [lo, lo+24).
func wrapHours(h, lo float64) float64 {
	h = math.Mod(h-lo, 24)
	if h < 0 {
		h += 24
	}
	return h + lo
}
