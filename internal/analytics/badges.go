package analytics

type BadgeID string

const (
	BadgeFirstWin   BadgeID = "first_win"
	BadgeVeteran    BadgeID = "veteran"
	BadgeChampion   BadgeID = "champion"
	BadgeUnbeaten   BadgeID = "unbeaten"
	BadgeCenturion  BadgeID = "centurion"
	BadgeHighRoller BadgeID = "high_roller"
)

type Badge struct {
	ID          BadgeID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
}

var AllBadges = map[BadgeID]Badge{
	BadgeFirstWin:   {ID: BadgeFirstWin, Name: "First Blood", Description: "Won a race", Icon: "🏁"},
	BadgeVeteran:    {ID: BadgeVeteran, Name: "Veteran", Description: "Finished 10+ races", Icon: "🏅"},
	BadgeChampion:   {ID: BadgeChampion, Name: "Champion", Description: "Won 10+ races", Icon: "🏆"},
	BadgeUnbeaten:   {ID: BadgeUnbeaten, Name: "Unbeaten", Description: "5+ wins without a loss", Icon: "🔥"},
	BadgeCenturion:  {ID: BadgeCenturion, Name: "Centurion", Description: "Reached a score of 100", Icon: "💯"},
	BadgeHighRoller: {ID: BadgeHighRoller, Name: "High Roller", Description: "Earned 100+ coins", Icon: "🪙"},
}

// EvaluateCareerBadges checks which badges a player's totals have earned.
// Badges come back in a fixed order.
func EvaluateCareerBadges(stats CareerStats) []Badge {
	earned := []Badge{}

	if stats.Wins >= 1 {
		earned = append(earned, AllBadges[BadgeFirstWin])
	}

	if stats.TotalGames >= 10 {
		earned = append(earned, AllBadges[BadgeVeteran])
	}

	if stats.Wins >= 10 {
		earned = append(earned, AllBadges[BadgeChampion])
	}

	if stats.Wins >= 5 && stats.Losses == 0 {
		earned = append(earned, AllBadges[BadgeUnbeaten])
	}

	if stats.Score >= 100 {
		earned = append(earned, AllBadges[BadgeCenturion])
	}

	if stats.Coins >= 100 {
		earned = append(earned, AllBadges[BadgeHighRoller])
	}

	return earned
}
