package candle

// GenerateHeikenAshiCandles smooths candles into Heikin Ashi bars. The first
// bar opens at the midpoint of its raw body, later bars at the midpoint of
// the previous Heikin Ashi body. candles must be in time order.
func GenerateHeikenAshiCandles(candles []Candle) []Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]Candle, len(candles))
	for i, c := range candles {
		haOpen := (c.Open + c.Close) / 2
		if i > 0 {
			haOpen = (out[i-1].Open + out[i-1].Close) / 2
		}
		haClose := (c.Open + c.High + c.Low + c.Close) / 4

		out[i] = c
		out[i].Open = haOpen
		out[i].Close = haClose
		out[i].High = max(c.High, haOpen, haClose)
		out[i].Low = min(c.Low, haOpen, haClose)
		out[i].Source = "heiken_ashi"
	}
	return out
}
