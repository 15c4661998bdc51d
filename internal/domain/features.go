package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BaseFeatureNames is the positional layout consumed by the basic and
// ensemble tiers. Order matters: those models address features by index,
// not by name.
var BaseFeatureNames = []string{"satellite_aod", "min_temp", "max_temp", "rainfall"}

// BaseFeatures produces the raw 4-tuple representation.
func BaseFeatures(o Observation) []float64 {
	return []float64{o.AOD, o.MinTemp, o.MaxTemp, o.Rainfall}
}

var (
	aodLagOffsets  = []int{1, 2, 3, 6, 12, 24}
	rollingWindows = []int{3, 6, 12, 24}
)

const (
	aodVolatilityWindow  = 3
	tempVolatilityWindow = 6

	humidityFloor   = 20.0
	humidityCeiling = 90.0
)

// FeatureRow is a named feature mapping for one observation. A name absent
// from the map is undefined (insufficient history), distinct from a value
// of zero.
type FeatureRow map[string]float64

// allFeatureNames is every name the derivation pipeline can produce.
// Membership decides whether SelectFeatures zero-fills an absent name or
// rejects it as unknown.
var allFeatureNames = buildAllFeatureNames()

func buildAllFeatureNames() map[string]struct{} {
	names := []string{
		"satellite_aod", "min_temp", "max_temp", "rainfall",
		"hour", "day_of_week", "month", "is_weekend", "day_of_year",
		"hour_sin", "hour_cos", "season_sin", "season_cos",
		"temp_range", "avg_temp", "humidity",
		"aod_log", "aod_squared", "aod_sqrt",
		"aod_temp_interaction", "aod_rainfall_interaction",
		"aod_volatility_3h", "temp_volatility_6h",
	}
	for _, lag := range aodLagOffsets {
		names = append(names, fmt.Sprintf("aod_lag_%d", lag))
	}
	for _, w := range rollingWindows {
		names = append(names, fmt.Sprintf("aod_rolling_%d", w), fmt.Sprintf("temp_rolling_%d", w))
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// AdvancedFeatureList is the default feature set the advanced trainer fits
// on: the base 4-tuple plus temporal, meteorological, transform, interaction,
// and short-horizon temporal-dependency features. The fitted artifact carries
// its own copy of this list; serving always follows the artifact's list, not
// this one.
func AdvancedFeatureList() []string {
	return []string{
		"satellite_aod", "min_temp", "max_temp", "rainfall",
		"hour", "day_of_week", "month", "is_weekend",
		"hour_sin", "hour_cos", "season_sin", "season_cos",
		"temp_range", "avg_temp", "humidity",
		"aod_log", "aod_squared", "aod_sqrt",
		"aod_temp_interaction", "aod_rainfall_interaction",
		"aod_lag_1", "aod_lag_2", "aod_lag_3",
		"aod_rolling_3", "aod_rolling_6", "temp_rolling_3",
		"aod_volatility_3h",
	}
}

// AdvancedRow derives the advanced representation for a single observation
// with no preceding history. Lag and rolling-mean features collapse to the
// current value (a window of one); rolling deviations collapse to 0. This is
// an accepted approximation for live requests, not an error.
func AdvancedRow(o Observation) FeatureRow {
	row := deriveStages(o)
	for _, lag := range aodLagOffsets {
		row[fmt.Sprintf("aod_lag_%d", lag)] = o.AOD
	}
	for _, w := range rollingWindows {
		row[fmt.Sprintf("aod_rolling_%d", w)] = o.AOD
		row[fmt.Sprintf("temp_rolling_%d", w)] = row["avg_temp"]
	}
	row["aod_volatility_3h"] = 0
	row["temp_volatility_6h"] = 0
	return row
}

// AdvancedSeries derives advanced rows for a time-ordered sequence of
// observations from the same series. The input is sorted ascending by
// timestamp before lag and rolling stages run; undefined values are filled
// by propagating the nearest subsequent then nearest preceding defined value
// along the series.
func AdvancedSeries(series []Observation) []FeatureRow {
	obs := make([]Observation, len(series))
	copy(obs, series)
	now := clock.Now()
	for i := range obs {
		if obs[i].Timestamp.IsZero() {
			obs[i].Timestamp = now
		}
	}
	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})

	rows := make([]FeatureRow, len(obs))
	aods := make([]float64, len(obs))
	avgTemps := make([]float64, len(obs))
	for i, o := range obs {
		rows[i] = deriveStages(o)
		aods[i] = o.AOD
		avgTemps[i] = rows[i]["avg_temp"]
	}

	for _, lag := range aodLagOffsets {
		name := fmt.Sprintf("aod_lag_%d", lag)
		for i := range rows {
			if i-lag >= 0 {
				rows[i][name] = aods[i-lag]
			}
		}
	}

	for _, w := range rollingWindows {
		aodName := fmt.Sprintf("aod_rolling_%d", w)
		tempName := fmt.Sprintf("temp_rolling_%d", w)
		for i := range rows {
			lo := max(0, i-w+1)
			rows[i][aodName] = stat.Mean(aods[lo:i+1], nil)
			rows[i][tempName] = stat.Mean(avgTemps[lo:i+1], nil)
		}
	}

	setRollingStd(rows, "aod_volatility_3h", aods, aodVolatilityWindow)
	setRollingStd(rows, "temp_volatility_6h", avgTemps, tempVolatilityWindow)

	fillSeries(rows)
	return rows
}

// setRollingStd writes the trailing sample standard deviation over the given
// window. A single-sample window has no sample deviation and stays undefined
// for the fill pass.
func setRollingStd(rows []FeatureRow, name string, values []float64, window int) {
	for i := range rows {
		lo := max(0, i-window+1)
		if i+1-lo < 2 {
			continue
		}
		rows[i][name] = stat.StdDev(values[lo:i+1], nil)
	}
}

// fillSeries propagates defined values into undefined slots: nearest
// subsequent value first, then nearest preceding. A feature undefined across
// the whole series stays undefined and resolves to 0 in SelectFeatures.
func fillSeries(rows []FeatureRow) {
	for name := range allFeatureNames {
		next, defined := 0.0, false
		for i := len(rows) - 1; i >= 0; i-- {
			if v, ok := rows[i][name]; ok {
				next, defined = v, true
			} else if defined {
				rows[i][name] = next
			}
		}
		prev, defined := 0.0, false
		for i := 0; i < len(rows); i++ {
			if v, ok := rows[i][name]; ok {
				prev, defined = v, true
			} else if defined {
				rows[i][name] = prev
			}
		}
	}
}

// deriveStages runs stages 1-4: temporal, meteorological, AOD transforms,
// interactions. Temporal-dependency features are added by the caller.
func deriveStages(o Observation) FeatureRow {
	ts := o.Timestamp
	if ts.IsZero() {
		ts = clock.Now()
	}
	ts = ts.UTC()

	row := make(FeatureRow, 32)
	row["satellite_aod"] = o.AOD
	row["min_temp"] = o.MinTemp
	row["max_temp"] = o.MaxTemp
	row["rainfall"] = o.Rainfall

	hour := float64(ts.Hour())
	dow := mondayIndexedWeekday(ts)
	doy := float64(ts.YearDay())
	row["hour"] = hour
	row["day_of_week"] = dow
	row["month"] = float64(ts.Month())
	row["is_weekend"] = boolFeature(dow >= 5)
	row["day_of_year"] = doy
	row["hour_sin"] = math.Sin(2 * math.Pi * hour / 24)
	row["hour_cos"] = math.Cos(2 * math.Pi * hour / 24)
	row["season_sin"] = math.Sin(2 * math.Pi * doy / 365.25)
	row["season_cos"] = math.Cos(2 * math.Pi * doy / 365.25)

	avgTemp := (o.MaxTemp + o.MinTemp) / 2
	row["temp_range"] = o.MaxTemp - o.MinTemp
	row["avg_temp"] = avgTemp
	row["humidity"] = humidity(o)

	row["aod_log"] = math.Log1p(o.AOD)
	row["aod_squared"] = o.AOD * o.AOD
	row["aod_sqrt"] = math.Sqrt(o.AOD)

	row["aod_temp_interaction"] = o.AOD * avgTemp
	row["aod_rainfall_interaction"] = o.AOD * (1 + o.Rainfall)

	return row
}

// humidity returns the measured humidity or the synthetic proxy
// clip(50 − 1.5·(max_temp−25) + 2·rainfall, 20, 90). Hot dry days trend low,
// rainy days trend high.
func humidity(o Observation) float64 {
	if o.Humidity != nil {
		return *o.Humidity
	}
	h := 50 - 1.5*(o.MaxTemp-25) + 2*o.Rainfall
	return math.Min(humidityCeiling, math.Max(humidityFloor, h))
}

// mondayIndexedWeekday converts Go's Sunday-first weekday to the Monday=0
// convention the artifacts were trained with (weekend = 5, 6).
func mondayIndexedWeekday(t time.Time) float64 {
	return float64((int(t.Weekday()) + 6) % 7)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SelectFeatures projects a row onto a model artifact's feature list, in the
// list's order. Fillable features that remained undefined resolve to 0 (the
// final zero-fill); a name the pipeline never produces is an error rather
// than a silent zero.
func SelectFeatures(row FeatureRow, names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, name := range names {
		if v, ok := row[name]; ok {
			out[i] = v
			continue
		}
		if _, known := allFeatureNames[name]; !known {
			return nil, fmt.Errorf("feature %q is not produced by the derivation pipeline", name)
		}
		out[i] = 0
	}
	return out, nil
}
