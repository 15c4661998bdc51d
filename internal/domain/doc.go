// Package domain models satellite aerosol observations and the feature
// representations consumed by the PM2.5 calibration tiers.
//
// # Data Source
//
// Each observation pairs a satellite aerosol-optical-depth (AOD) retrieval
// with same-day surface weather: minimum and maximum temperature (°C) and
// rainfall (mm). AOD is a unitless column-integrated measure of atmospheric
// particulate load; ground-level PM2.5 (µg/m³) is the calibration target.
// Ground-truth readings used for training come from regulatory monitoring
// stations ingested by the ingest command.
//
// # Feature Representations
//
// Three calibration tiers consume two representations:
//
//	Basic and ensemble tiers: the positional 4-tuple
//	  (satellite_aod, min_temp, max_temp, rainfall).
//	  Order is load-bearing — these models address features by index.
//
//	Advanced tier: a named feature row built in deterministic stages, each
//	  stage free to read fields produced by an earlier one:
//	    1. temporal       — hour, day-of-week (Monday=0), month, weekend flag,
//	                        cyclic hour (period 24) and day-of-year
//	                        (period 365.25) encodings
//	    2. meteorological — temperature range, average temperature, humidity
//	                        (synthesized from temperature and rainfall when
//	                        no measured value is present)
//	    3. AOD transforms — log1p, square, square root
//	    4. interactions   — aod×avg_temp, aod×(1+rainfall)
//	    5. temporal deps  — AOD lags at offsets {1,2,3,6,12,24}; rolling means
//	                        of AOD and average temperature over windows
//	                        {3,6,12,24} (minimum one sample); rolling sample
//	                        standard deviation of AOD (window 3) and average
//	                        temperature (window 6)
//
// # Missing Values
//
// Stage 5 features are undefined where history is insufficient (a lag of 24
// on the first row of a series). Undefined values are filled by propagating
// the nearest subsequent, then nearest preceding, defined value along the
// time-sorted series. Anything still undefined resolves to 0 at the
// consumption boundary ([SelectFeatures]). A single observation with no
// history is an accepted degenerate case: lags and rolling means collapse to
// the current value, rolling deviations to 0.
//
// # Time
//
// Observations without a timestamp take the current clock time at derivation.
// The package clock is swappable via [SetClock] so derived rows are
// reproducible in tests.
package domain
