package arcade

// Award kinds in the fixed end-of-session catalogue.
const (
	AwardTopScore      = "top_score"
	AwardLongestStreak = "longest_streak"
	AwardMostImproved  = "most_improved"
	AwardQuickestMind  = "quickest_mind"
	AwardComebackKing  = "comeback_king"
)

var awardTitles = map[string]string{
	AwardTopScore:      "Top Score",
	AwardLongestStreak: "Longest Streak",
	AwardMostImproved:  "Most Improved",
	AwardQuickestMind:  "Quickest Mind",
	AwardComebackKing:  "Comeback King",
}

// Award names one winner of one catalogue entry. Value carries the winning
// metric (points, streak length, score delta, milliseconds, or percent).
type Award struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Value    int64  `json:"value"`
}

// AwardInput is one player's final snapshot entering award computation.
type AwardInput struct {
	PlayerID  string
	Name      string
	JoinOrder int
	Score     ScoreState
}

// ComputeAwards derives the award catalogue from final snapshots. Each award
// is skipped when no player qualifies; ties go to the earliest joiner. The
// result is deterministic for a given input.
func ComputeAwards(players []AwardInput) []Award {
	if len(players) == 0 {
		return nil
	}

	ordered := make([]AwardInput, len(players))
	copy(ordered, players)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].JoinOrder < ordered[j-1].JoinOrder; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var awards []Award
	add := func(kind string, winner *AwardInput, value int64) {
		if winner == nil {
			return
		}
		awards = append(awards, Award{
			Kind:     kind,
			Title:    awardTitles[kind],
			PlayerID: winner.PlayerID,
			Name:     winner.Name,
			Value:    value,
		})
	}

	var topScore *AwardInput
	for i := range ordered {
		p := &ordered[i]
		if p.Score.TotalScore > 0 && (topScore == nil || p.Score.TotalScore > topScore.Score.TotalScore) {
			topScore = p
		}
	}
	if topScore != nil {
		add(AwardTopScore, topScore, int64(topScore.Score.TotalScore))
	}

	var longest *AwardInput
	for i := range ordered {
		p := &ordered[i]
		if p.Score.BestStreak > 0 && (longest == nil || p.Score.BestStreak > longest.Score.BestStreak) {
			longest = p
		}
	}
	if longest != nil {
		add(AwardLongestStreak, longest, int64(longest.Score.BestStreak))
	}

	// Most Improved compares the earliest and latest effective run scores;
	// a single run has no trend.
	var improved *AwardInput
	var improvedDelta int
	for i := range ordered {
		p := &ordered[i]
		if p.Score.GamesPlayed < 2 {
			continue
		}
		delta := p.Score.LastRunScore - p.Score.FirstRunScore
		if delta > 0 && (improved == nil || delta > improvedDelta) {
			improved = p
			improvedDelta = delta
		}
	}
	if improved != nil {
		add(AwardMostImproved, improved, int64(improvedDelta))
	}

	var quickest *AwardInput
	for i := range ordered {
		p := &ordered[i]
		if p.Score.QuestionsAnswered < 5 {
			continue
		}
		if quickest == nil || p.Score.AvgTimeMS() < quickest.Score.AvgTimeMS() {
			quickest = p
		}
	}
	if quickest != nil {
		add(AwardQuickestMind, quickest, quickest.Score.AvgTimeMS())
	}

	// Comeback King ranks by credits used over credits earned. Cross
	// multiplication avoids float comparison.
	var comeback *AwardInput
	for i := range ordered {
		p := &ordered[i]
		if p.Score.CreditsUsed < 1 || p.Score.CreditsEarned < 1 {
			continue
		}
		if comeback == nil ||
			p.Score.CreditsUsed*comeback.Score.CreditsEarned > comeback.Score.CreditsUsed*p.Score.CreditsEarned {
			comeback = p
		}
	}
	if comeback != nil {
		add(AwardComebackKing, comeback, int64(100*comeback.Score.CreditsUsed/comeback.Score.CreditsEarned))
	}

	return awards
}
