package analytics

import (
	"math"

	"typerace/internal/gamedata"
	"typerace/internal/scores"
)

type CareerStats struct {
	Score      int `json:"score"`
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`
	TotalGames int `json:"totalGames"`
	Coins      int `json:"coins"`
}

func StatsOf(u *gamedata.User) CareerStats {
	s := CareerStats{
		Wins:       u.Wins,
		Losses:     u.Losses,
		TotalGames: u.TotalGames,
		Coins:      u.Coins,
	}
	if u.Score != nil {
		s.Score = *u.Score
	}
	return s
}

// WinRate is the percentage of finished races won, rounded to one decimal.
func (s CareerStats) WinRate() float64 {
	if s.TotalGames == 0 {
		return 0
	}
	return math.Round(float64(s.Wins)/float64(s.TotalGames)*1000) / 10
}

type Profile struct {
	UserID  string       `json:"userId"`
	Name    string       `json:"name"`
	Stats   CareerStats  `json:"stats"`
	WinRate float64      `json:"winRate"`
	Rank    *scores.Rank `json:"rank"`
	Badges  []Badge      `json:"badges"`
}

// NewProfile assembles what the profile page shows. rank is nil for users who
// have never been scored.
func NewProfile(u *gamedata.User, rank *scores.Rank) Profile {
	stats := StatsOf(u)
	return Profile{
		UserID:  u.ID,
		Name:    u.DisplayName(),
		Stats:   stats,
		WinRate: stats.WinRate(),
		Rank:    rank,
		Badges:  EvaluateCareerBadges(stats),
	}
}
