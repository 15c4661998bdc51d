// Command gendata seeds the ground-truth store with synthetic aligned
// AOD/weather/PM2.5 readings so the trainers and the API can be exercised
// without upstream access. The generated PM2.5 follows a smooth function of
// AOD, temperature, and rainfall plus noise, so trained models have real
// structure to find.
//
// Usage:
//
//	go run ./cmd/gendata -rows 2000 -stations 3
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/airshed/aod-calibration-service/internal/adapter/sqlite"
	"github.com/airshed/aod-calibration-service/internal/config"
	"github.com/airshed/aod-calibration-service/internal/domain"
)

var stationNames = []string{
	"anand-vihar", "rk-puram", "punjabi-bagh", "dwarka", "rohini",
	"okhla", "shadipur", "siri-fort",
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	rows := flag.Int("rows", 2000, "readings to generate per station")
	stations := flag.Int("stations", 3, "number of stations")
	seed := flag.Int64("seed", 42, "random seed")
	labeled := flag.Float64("labeled", 0.8, "fraction of readings carrying a PM2.5 label")
	startFlag := flag.String("start", "2025-01-01T00:00:00Z", "timestamp of the first reading (RFC 3339)")
	flag.Parse()

	if *stations < 1 || *stations > len(stationNames) {
		return fmt.Errorf("-stations must be between 1 and %d", len(stationNames))
	}
	start, err := time.Parse(time.RFC3339, *startFlag)
	if err != nil {
		return fmt.Errorf("bad -start: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	rng := rand.New(rand.NewSource(*seed))
	var total, withLabel int
	for s := 0; s < *stations; s++ {
		readings := generate(rng, stationNames[s], start, *rows, *labeled)
		n, err := db.UpsertReadings(context.Background(), readings)
		if err != nil {
			return err
		}
		total += n
		for _, r := range readings {
			if r.PM25 != nil {
				withLabel++
			}
		}
	}

	fmt.Printf("wrote %d readings (%d labeled) across %d stations to %s\n",
		total, withLabel, *stations, cfg.DatabasePath)
	return nil
}

// generate produces hourly readings with a diurnal AOD cycle, a seasonal
// temperature cycle, sporadic rain, and a PM2.5 label tied to all three.
func generate(rng *rand.Rand, station string, start time.Time, rows int, labeledFrac float64) []domain.Reading {
	// Per-station baseline so stations are distinguishable.
	baseAOD := 150 + rng.Float64()*200

	readings := make([]domain.Reading, rows)
	for i := range readings {
		ts := start.Add(time.Duration(i) * time.Hour)
		hour := float64(ts.Hour())
		doy := float64(ts.YearDay())

		// AOD peaks in the morning and evening; temperature follows the season.
		diurnal := 1 + 0.3*math.Sin(2*math.Pi*(hour-8)/24)
		aod := baseAOD*diurnal + rng.NormFloat64()*30
		if aod < 5 {
			aod = 5
		}
		seasonal := 12 * math.Sin(2*math.Pi*(doy-100)/365.25)
		minTemp := 18 + seasonal + rng.NormFloat64()*2
		maxTemp := minTemp + 8 + rng.Float64()*6

		rainfall := 0.0
		if rng.Float64() < 0.15 {
			rainfall = rng.Float64() * 25
		}

		obs := domain.Observation{
			AOD:       aod,
			MinTemp:   minTemp,
			MaxTemp:   maxTemp,
			Rainfall:  rainfall,
			Timestamp: ts,
		}
		r := domain.Reading{Station: station, Observation: obs}
		if rng.Float64() < labeledFrac {
			pm25 := 15 + 0.28*aod + 0.8*(maxTemp-28) - 0.5*rainfall + rng.NormFloat64()*8
			if pm25 < 2 {
				pm25 = 2
			}
			r.PM25 = &pm25
		}
		readings[i] = r
	}
	return readings
}
