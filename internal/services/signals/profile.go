package signals

import "github.com/vadiminshakov/spotengine/internal/domain"

// Profile is the indicator configuration for a class of timeframes.
type Profile struct {
	Name string

	ATRPeriod  int
	Multiplier float64

	DonchianLength  int
	RequireBreakout bool

	RSIPeriod    int
	SmoothPeriod int

	VolumeLookback int
	VolumeMult     float64
	VolumeMinAbs   float64
}

var (
	// ShortProfile serves fast timeframes: Donchian breakout is mandatory.
	ShortProfile = Profile{
		Name:            "short",
		ATRPeriod:       7,
		Multiplier:      2.0,
		DonchianLength:  20,
		RequireBreakout: true,
		RSIPeriod:       7,
		SmoothPeriod:    7,
		VolumeLookback:  20,
		VolumeMult:      1.2,
		VolumeMinAbs:    75_000,
	}

	// LongProfile serves everything else: Donchian breakout is optional.
	LongProfile = Profile{
		Name:            "long",
		ATRPeriod:       14,
		Multiplier:      3.0,
		DonchianLength:  55,
		RequireBreakout: false,
		RSIPeriod:       14,
		SmoothPeriod:    21,
		VolumeLookback:  50,
		VolumeMult:      1.0,
		VolumeMinAbs:    150_000,
	}
)

var shortTimeframes = map[domain.Timeframe]struct{}{
	"1m":  {},
	"2m":  {},
	"5m":  {},
	"15m": {},
}

// ProfileFor selects the profile for tf.
func ProfileFor(tf domain.Timeframe) Profile {
	if _, ok := shortTimeframes[tf]; ok {
		return ShortProfile
	}
	return LongProfile
}
