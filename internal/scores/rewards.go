package scores

import "typerace/internal/gamedata"

type Outcome string

const (
	OutcomeWin  = Outcome("win")
	OutcomeLose = Outcome("lose")
)

func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLose
}

// Reward is the nominal change for one game, before the score floor applies.
type Reward struct {
	Score int
	Coins int
}

// DefaultPlayerCount is assumed when a caller does not say how many played.
const DefaultPlayerCount = gamedata.MinPlayers

// ScaledReward grows with every participant beyond two: winners earn more and
// losers lose less in bigger games.
func ScaledReward(outcome Outcome, playerCount int) Reward {
	extra := max(0, playerCount-2)
	if outcome == OutcomeWin {
		return Reward{Score: 10 + 2*extra, Coins: 20 + 5*extra}
	}
	r := Reward{Score: -5 + min(3, extra)}
	if playerCount > 2 {
		r.Coins = min(5, extra)
	}
	return r
}

// FlatReward ignores the game size and pays no coins.
func FlatReward(outcome Outcome) Reward {
	if outcome == OutcomeWin {
		return Reward{Score: 10}
	}
	return Reward{Score: -5}
}
