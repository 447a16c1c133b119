package session

import (
	"time"

	"github.com/reviewarcade/server/internal/arcade"
	"github.com/reviewarcade/server/internal/protocol"
	"github.com/reviewarcade/server/internal/store"
)

// Player is one joined participant. All fields are owned by the session
// goroutine; nothing here is safe to touch from outside the actor.
type Player struct {
	ID        string
	Name      string
	Token     string
	IsTeacher bool
	JoinOrder int
	JoinedAt  time.Time

	conn      *Conn
	Connected bool

	Score     arcade.ScoreState
	LiveScore int
	history   *arcade.History

	// Pending review question, set on death and cleared on answer or expiry.
	pendingID     string
	pendingIssued time.Time
	pending       arcade.Question

	// Last leaderboard view pushed to this player, used to suppress
	// updates that would not change what they see.
	lastRankSent  int
	lastScoreSent int
	lastTopSig    string
}

func (p *Player) hasPending() bool {
	return p.pendingID != ""
}

func (p *Player) pendingExpired(now time.Time, window time.Duration) bool {
	return p.hasPending() && now.Sub(p.pendingIssued) > window
}

func (p *Player) clearPending() {
	p.pendingID = ""
	p.pending = arcade.Question{}
	p.pendingIssued = time.Time{}
}

func (p *Player) summary() protocol.PlayerSummary {
	return protocol.PlayerSummary{
		PlayerID:          p.ID,
		DisplayName:       p.Name,
		IsTeacher:         p.IsTeacher,
		Connected:         p.Connected,
		TotalScore:        p.Score.TotalScore,
		CurrentStreak:     p.Score.CurrentStreak,
		BestStreak:        p.Score.BestStreak,
		StreakMultiplier:  arcade.Multiplier(p.Score.CurrentStreak),
		ComebackCredits:   p.Score.ComebackCredits,
		QuestionsAnswered: p.Score.QuestionsAnswered,
		QuestionsCorrect:  p.Score.QuestionsCorrect,
	}
}

func (p *Player) standing() arcade.Standing {
	return arcade.Standing{
		PlayerID:   p.ID,
		Name:       p.Name,
		IsTeacher:  p.IsTeacher,
		JoinOrder:  p.JoinOrder,
		TotalScore: p.Score.TotalScore,
		BestStreak: p.Score.BestStreak,
	}
}

func (p *Player) awardInput() arcade.AwardInput {
	return arcade.AwardInput{
		PlayerID:  p.ID,
		Name:      p.Name,
		JoinOrder: p.JoinOrder,
		Score:     p.Score,
	}
}

func (p *Player) result() store.PlayerResult {
	return store.PlayerResult{
		PlayerID:          p.ID,
		Name:              p.Name,
		IsTeacher:         p.IsTeacher,
		TotalScore:        p.Score.TotalScore,
		BestStreak:        p.Score.BestStreak,
		GamesPlayed:       p.Score.GamesPlayed,
		QuestionsAnswered: p.Score.QuestionsAnswered,
		QuestionsCorrect:  p.Score.QuestionsCorrect,
		AvgAnswerMS:       p.Score.AvgTimeMS(),
		CreditsEarned:     p.Score.CreditsEarned,
		CreditsUsed:       p.Score.CreditsUsed,
	}
}
