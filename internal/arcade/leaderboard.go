package arcade

import "sort"

// Standing is the input to ranking: one player's comparable results plus the
// join order used to break ties deterministically.
type Standing struct {
	PlayerID   string
	Name       string
	IsTeacher  bool
	JoinOrder  int
	TotalScore int
	BestStreak int
}

// LeaderboardEntry is one ranked row. Ranks are dense: players tied on
// (total score, best streak) share a rank and the next distinct pair gets
// rank+1.
type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"player_id"`
	Name       string `json:"name"`
	IsTeacher  bool   `json:"is_teacher,omitempty"`
	TotalScore int    `json:"total_score"`
	BestStreak int    `json:"best_streak"`
}

// Rank orders standings by total score descending, best streak descending,
// join order ascending, and assigns dense ranks starting at 1.
func Rank(standings []Standing) []LeaderboardEntry {
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalScore != sorted[j].TotalScore {
			return sorted[i].TotalScore > sorted[j].TotalScore
		}
		if sorted[i].BestStreak != sorted[j].BestStreak {
			return sorted[i].BestStreak > sorted[j].BestStreak
		}
		return sorted[i].JoinOrder < sorted[j].JoinOrder
	})

	entries := make([]LeaderboardEntry, len(sorted))
	rank := 0
	prevScore, prevStreak := 0, 0
	for i, s := range sorted {
		if i == 0 || s.TotalScore != prevScore || s.BestStreak != prevStreak {
			rank++
			prevScore, prevStreak = s.TotalScore, s.BestStreak
		}
		entries[i] = LeaderboardEntry{
			Rank:       rank,
			PlayerID:   s.PlayerID,
			Name:       s.Name,
			IsTeacher:  s.IsTeacher,
			TotalScore: s.TotalScore,
			BestStreak: s.BestStreak,
		}
	}
	return entries
}

// TopView returns the first n entries plus the given player's own rank and
// score. Rank and score are zero when the player is not ranked.
func TopView(entries []LeaderboardEntry, playerID string, n int) (top []LeaderboardEntry, rank, score int) {
	if n > len(entries) {
		n = len(entries)
	}
	top = entries[:n]
	for _, e := range entries {
		if e.PlayerID == playerID {
			return top, e.Rank, e.TotalScore
		}
	}
	return top, 0, 0
}
