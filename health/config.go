package health

import "time"

// Config holds every tunable of the monitor. The score deductions are a
// product-tuned formula; defaults preserve the shipped behavior but hosts
// may recalibrate.
type Config struct {
	SlowResponseThreshold time.Duration `json:"slow_response_threshold"`
	StallTimeout          time.Duration `json:"stall_timeout"`
	DedupWindow           time.Duration `json:"dedup_window"`
	IssueScoreWindow      time.Duration `json:"issue_score_window"`
	MaxIssuesPerSession   int           `json:"max_issues_per_session"`

	TokenWarnRatio     float64 `json:"token_warn_ratio"`
	TokenErrorRatio    float64 `json:"token_error_ratio"`
	RunawayTokenRatio  float64 `json:"runaway_token_ratio"`
	IterationWarnRatio float64 `json:"iteration_warn_ratio"`
	IterationErrRatio  float64 `json:"iteration_error_ratio"`

	LoopStopCount  int           `json:"loop_stop_count"`
	LoopStopWindow time.Duration `json:"loop_stop_window"`

	Weights ScoreWeights `json:"weights"`
}

// ScoreWeights are the deductions applied when computing the 0-100 score.
type ScoreWeights struct {
	IterationHigh int `json:"iteration_high"` // progress > 90%
	IterationMid  int `json:"iteration_mid"`  // progress > 70%
	IterationLow  int `json:"iteration_low"`  // progress > 50%
	TokenHigh     int `json:"token_high"`     // utilization > 90%
	TokenMid      int `json:"token_mid"`      // utilization > 70%
	ErrorIssue    int `json:"error_issue"`    // per error issue in window
	WarningIssue  int `json:"warning_issue"`  // per warning issue in window
	SlowAverage   int `json:"slow_average"`   // avg iteration above slow threshold
}

// DefaultConfig returns the shipped monitor configuration.
func DefaultConfig() Config {
	return Config{
		SlowResponseThreshold: 30 * time.Second,
		StallTimeout:          120 * time.Second,
		DedupWindow:           30 * time.Second,
		IssueScoreWindow:      5 * time.Minute,
		MaxIssuesPerSession:   50,
		TokenWarnRatio:        0.7,
		TokenErrorRatio:       0.9,
		RunawayTokenRatio:     2.0,
		IterationWarnRatio:    0.8,
		IterationErrRatio:     0.95,
		LoopStopCount:         2,
		LoopStopWindow:        60 * time.Second,
		Weights: ScoreWeights{
			IterationHigh: 30,
			IterationMid:  15,
			IterationLow:  5,
			TokenHigh:     25,
			TokenMid:      10,
			ErrorIssue:    15,
			WarningIssue:  5,
			SlowAverage:   10,
		},
	}
}

// withDefaults fills zero fields so a partially specified Config behaves
// like DefaultConfig for the unspecified parts.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SlowResponseThreshold == 0 {
		c.SlowResponseThreshold = def.SlowResponseThreshold
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = def.StallTimeout
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.IssueScoreWindow == 0 {
		c.IssueScoreWindow = def.IssueScoreWindow
	}
	if c.MaxIssuesPerSession == 0 {
		c.MaxIssuesPerSession = def.MaxIssuesPerSession
	}
	if c.TokenWarnRatio == 0 {
		c.TokenWarnRatio = def.TokenWarnRatio
	}
	if c.TokenErrorRatio == 0 {
		c.TokenErrorRatio = def.TokenErrorRatio
	}
	if c.RunawayTokenRatio == 0 {
		c.RunawayTokenRatio = def.RunawayTokenRatio
	}
	if c.IterationWarnRatio == 0 {
		c.IterationWarnRatio = def.IterationWarnRatio
	}
	if c.IterationErrRatio == 0 {
		c.IterationErrRatio = def.IterationErrRatio
	}
	if c.LoopStopCount == 0 {
		c.LoopStopCount = def.LoopStopCount
	}
	if c.LoopStopWindow == 0 {
		c.LoopStopWindow = def.LoopStopWindow
	}
	if c.Weights == (ScoreWeights{}) {
		c.Weights = def.Weights
	}
	return c
}
