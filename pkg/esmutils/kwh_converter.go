package esmutils

// No negative values
func KwToW(kw float64) float64 {
	if kw < 0 {
		return 0
	}
	return kw * 1000
}

// Meter feeds count energy in Wh, emeter channels in kWh.
func WhToKwh(wh float64) float64 {
	return wh / 1000
}
