// Package sitepacer provides adaptive request pacing for automated clients.
//
// # Overview
//
// sitepacer watches response latency per request category and adjusts the
// delay between requests so a client backs off before a remote service starts
// rate limiting or blocking it, and speeds back up once the service recovers.
//
// # Architecture
//
// The package components:
//
//   - extract    - Converts a response into a latency in seconds
//   - category   - Per-category state and the category registry
//   - calibrator - Burn-in baseline (mean, standard deviation, control limit)
//   - detector   - Rolling mean vs control limit, hysteresis counters
//   - delay      - Delay steps, [min, max] clamping, jitter
//   - monitor    - TrackRequest, the control loop tying it together
//   - metrics    - Prometheus collectors
//   - report     - Text and PNG charts of the collected history
//   - assertions - Test helpers for pacing properties
//
// # Quick Start
//
//	cfg := sitepacer.DefaultConfig()
//	cfg.Categories = []string{"search", "detail"}
//
//	monitor, err := sitepacer.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, url := range urls {
//	    start := time.Now()
//	    resp, err := client.Get(url)
//	    if err != nil {
//	        continue
//	    }
//	    resp.Body.Close()
//
//	    // Sleeps for the returned delay (HandleTimer defaults to true)
//	    monitor.TrackRequest(&sitepacer.TimedResponse{Response: resp, Took: time.Since(start)}, "search")
//	}
//
// # The Control Loop
//
// Every category goes through two phases:
//
//	UNCALIBRATED ──(burn_in observations)──▶ CALIBRATED
//
// While uncalibrated, TrackRequest answers with delays.burnin. On the
// burn_in-th observation the baseline is fixed:
//
//	baseline_max = baseline_avg + choke_point · baseline_std
//
// From then on each observation enters a rolling window of
// rolling_mean_length entries. A rolling mean above baseline_max is a
// violation:
//
//   - slow_down_thresh consecutive violations: delay += interval (max clamp)
//   - speed_up_thresh consecutive clean rounds: delay -= interval (min clamp)
//
// A rolling mean exactly at baseline_max counts as clean.
//
// # Jitter
//
// With Config.Rand set to r, the returned delay is drawn uniformly from
// [max(delay-r, 0), delay+r]. The stored delay is never perturbed.
//
// # Concurrency
//
// A Monitor is single-caller. Use one per worker, or wrap TrackRequest in a
// mutex. The observation history grows for the monitor's lifetime so it can
// be reported.
package sitepacer
