package arcade

// MaxComebackCredits caps the credits a player can hold at once.
const MaxComebackCredits = 5

// maxMultiplierQuarters caps the streak multiplier at 2.0 (4 quarter steps
// above the base 1.0).
const maxMultiplierQuarters = 4

// ScoreState is one player's scoring state within a session. All score
// arithmetic is integer; the multiplier exists only in quarter steps and is
// derived from the current streak, never stored.
type ScoreState struct {
	TotalScore      int `json:"total_score"`
	CurrentStreak   int `json:"current_streak"`
	BestStreak      int `json:"best_streak"`
	ComebackCredits int `json:"comeback_credits"`

	// LastDeathScore is the effective score recorded at the most recent
	// death. It is banked into TotalScore on a correct answer and
	// forfeited on a wrong one.
	LastDeathScore int `json:"last_death_score"`

	// ComebackStartScore is the head-start score granted when a credit was
	// consumed at the most recent death; zero when no credit was spent.
	ComebackStartScore int `json:"comeback_start_score"`

	QuestionsAnswered int   `json:"questions_answered"`
	QuestionsCorrect  int   `json:"questions_correct"`
	GamesPlayed       int   `json:"games_played"`
	TotalAnswerMS     int64 `json:"total_answer_ms"`

	CreditsEarned int `json:"credits_earned"`
	CreditsUsed   int `json:"credits_used"`

	// FirstRunScore and LastRunScore track the earliest and latest
	// effective death scores, used for the Most Improved award.
	FirstRunScore int `json:"first_run_score"`
	LastRunScore  int `json:"last_run_score"`
}

// DeathResult reports what a death event computed.
type DeathResult struct {
	EffectiveScore     int
	ComebackStartScore int
	CreditConsumed     bool
}

// AnswerResult reports the state visible to the player after an answer.
type AnswerResult struct {
	Correct            bool
	BonusEarned        int
	TotalScore         int
	CurrentStreak      int
	StreakMultiplier   float64
	ComebackCredits    int
	ComebackStartScore int
}

// multiplierQuarters returns how many 0.25 steps above 1.0 the streak earns.
func multiplierQuarters(streak int) int {
	q := streak / 3
	if q > maxMultiplierQuarters {
		q = maxMultiplierQuarters
	}
	if q < 0 {
		q = 0
	}
	return q
}

// Multiplier returns the streak multiplier: 1.0 + 0.25 per three consecutive
// correct answers, clamped to [1.0, 2.0].
func Multiplier(streak int) float64 {
	return float64(4+multiplierQuarters(streak)) / 4.0
}

// EffectiveScore applies the streak multiplier to a run score using integer
// arithmetic (floor).
func EffectiveScore(runScore, streak int) int {
	if runScore < 0 {
		runScore = 0
	}
	return runScore * (4 + multiplierQuarters(streak)) / 4
}

// ApplyDeath records a death with the given run score. The effective
// (multiplier-applied) score is held in LastDeathScore and is not credited to
// TotalScore until a correct answer. A comeback credit, if available, is
// consumed to grant a head-start of half the effective score.
func ApplyDeath(s ScoreState, runScore int) (ScoreState, DeathResult) {
	eff := EffectiveScore(runScore, s.CurrentStreak)

	s.LastDeathScore = eff
	s.GamesPlayed++
	if s.GamesPlayed == 1 {
		s.FirstRunScore = eff
	}
	s.LastRunScore = eff

	res := DeathResult{EffectiveScore: eff}
	if s.ComebackCredits > 0 {
		s.ComebackCredits--
		s.CreditsUsed++
		s.ComebackStartScore = eff / 2
		res.CreditConsumed = true
	} else {
		s.ComebackStartScore = 0
	}
	res.ComebackStartScore = s.ComebackStartScore
	return s, res
}

// ApplyCorrect credits the pending death score, extends the streak, and
// grants a comeback credit (saturating at MaxComebackCredits).
func ApplyCorrect(s ScoreState, timeMS int64) (ScoreState, AnswerResult) {
	s.CurrentStreak++
	if s.CurrentStreak > s.BestStreak {
		s.BestStreak = s.CurrentStreak
	}
	if s.ComebackCredits < MaxComebackCredits {
		s.ComebackCredits++
		s.CreditsEarned++
	}

	bonus := s.LastDeathScore
	s.TotalScore += bonus
	s.LastDeathScore = 0

	s.QuestionsAnswered++
	s.QuestionsCorrect++
	if timeMS > 0 {
		s.TotalAnswerMS += timeMS
	}

	return s, AnswerResult{
		Correct:            true,
		BonusEarned:        bonus,
		TotalScore:         s.TotalScore,
		CurrentStreak:      s.CurrentStreak,
		StreakMultiplier:   Multiplier(s.CurrentStreak),
		ComebackCredits:    s.ComebackCredits,
		ComebackStartScore: s.ComebackStartScore,
	}
}

// ApplyWrong forfeits the pending death score and resets the streak. The
// credit consumed at death stays spent.
func ApplyWrong(s ScoreState, timeMS int64) (ScoreState, AnswerResult) {
	s.CurrentStreak = 0
	s.LastDeathScore = 0
	s.ComebackStartScore = 0

	s.QuestionsAnswered++
	if timeMS > 0 {
		s.TotalAnswerMS += timeMS
	}

	return s, AnswerResult{
		Correct:            false,
		TotalScore:         s.TotalScore,
		CurrentStreak:      0,
		StreakMultiplier:   Multiplier(0),
		ComebackCredits:    s.ComebackCredits,
		ComebackStartScore: 0,
	}
}

// AvgTimeMS returns the mean answer time across all answered questions,
// zero when nothing has been answered.
func (s ScoreState) AvgTimeMS() int64 {
	if s.QuestionsAnswered == 0 {
		return 0
	}
	return s.TotalAnswerMS / int64(s.QuestionsAnswered)
}
