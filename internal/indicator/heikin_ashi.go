package indicator

import "github.com/amirphl/rule-backtester/internal/candle"

// HeikinAshi adds the Heiken Ashi bars as HA_open/HA_high/HA_low/HA_close.
type HeikinAshi struct{}

func (HeikinAshi) Name() string { return "HA" }

func (HeikinAshi) Columns() []string {
	return []string{"HA_open", "HA_high", "HA_low", "HA_close"}
}

func (HeikinAshi) Calculate(t *candle.Table) ([][]float64, error) {
	ha := candle.GenerateHeikenAshiCandles(t.Candles())
	out := [][]float64{
		make([]float64, len(ha)),
		make([]float64, len(ha)),
		make([]float64, len(ha)),
		make([]float64, len(ha)),
	}
	for i, c := range ha {
		out[0][i], out[1][i], out[2][i], out[3][i] = c.Open, c.High, c.Low, c.Close
	}
	return out, nil
}
