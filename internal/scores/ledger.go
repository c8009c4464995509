// Package scores settles finished games into user stats and keeps the
// leaderboard index in step with them.
package scores

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"typerace/internal/aggregate"
	"typerace/internal/gamedata"
	"typerace/internal/metrics"
	"typerace/internal/store"
)

type Result struct {
	ScoreChange int `json:"scoreChange"`
	CoinsEarned int `json:"coinsEarned"`
	NewScore    int `json:"newScore"`
	NewCoins    int `json:"newCoins"`
}

// Settlement pays out one room round. PlayerIDs includes the winner.
type Settlement struct {
	RoomID    string
	Round     int
	WinnerID  string
	PlayerIDs []string
}

type Ledger struct {
	store   store.Store
	scaled  bool
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewLedger(st store.Store, scaled bool, m *metrics.Metrics, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   st,
		scaled:  scaled,
		metrics: m,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

func (l *Ledger) reward(outcome Outcome, playerCount int) Reward {
	if l.scaled {
		return ScaledReward(outcome, playerCount)
	}
	return FlatReward(outcome)
}

// UpdatePlayerScore applies one game result to a user. The stats row and the
// leaderboard entry change in the same unit of work. A playerCount below one
// means the default two-player game; placement is informational.
func (l *Ledger) UpdatePlayerScore(ctx context.Context, userID string, outcome Outcome, playerCount, placement int) (*Result, error) {
	if !outcome.Valid() {
		return nil, gamedata.ErrInvalidOutcome
	}
	if playerCount < 1 {
		playerCount = DefaultPlayerCount
	}
	r := l.reward(outcome, playerCount)

	var res *Result
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = applyReward(tx, userID, outcome, r)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.metrics.ScoreUpdates.WithLabelValues(string(outcome)).Inc()
	l.logger.Debug().
		Str("user_id", userID).
		Str("outcome", string(outcome)).
		Int("player_count", playerCount).
		Int("placement", placement).
		Int("score", res.NewScore).
		Msg("score updated")
	return res, nil
}

func applyReward(tx store.Tx, userID string, outcome Outcome, r Reward) (*Result, error) {
	u, err := tx.GetUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, gamedata.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	prev := 0
	if u.Score != nil {
		prev = *u.Score
	}
	next := max(0, prev+r.Score)

	switch outcome {
	case OutcomeWin:
		u.Wins++
	case OutcomeLose:
		u.Losses++
	}
	u.TotalGames++
	u.Coins += r.Coins

	ix := tx.Leaderboard()
	if u.Score == nil {
		err = ix.Insert(aggregate.Entry{Key: next, ID: u.ID})
	} else {
		err = aggregate.Replace(ix, aggregate.Entry{Key: prev, ID: u.ID}, aggregate.Entry{Key: next, ID: u.ID})
	}
	if err != nil {
		return nil, fmt.Errorf("updating leaderboard entry: %w", err)
	}

	u.Score = gamedata.IntPtr(next)
	if err := tx.SaveUserStats(u); err != nil {
		return nil, fmt.Errorf("saving user stats: %w", err)
	}
	return &Result{
		ScoreChange: r.Score,
		CoinsEarned: r.Coins,
		NewScore:    next,
		NewCoins:    u.Coins,
	}, nil
}

// UpdateMultiplayerGameScores credits the winner and debits everyone else,
// one unit of work per player. A failing player does not stop the rest.
func (l *Ledger) UpdateMultiplayerGameScores(ctx context.Context, winnerID string, playerIDs []string) error {
	var errs []error
	for _, id := range playerIDs {
		outcome, placement := OutcomeLose, 2
		if id == winnerID {
			outcome, placement = OutcomeWin, 1
		}
		if _, err := l.UpdatePlayerScore(ctx, id, outcome, len(playerIDs), placement); err != nil {
			errs = append(errs, fmt.Errorf("scoring %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Settle pays out a round at most once. It reports false when the round had
// already been claimed.
func (l *Ledger) Settle(ctx context.Context, s Settlement) (bool, error) {
	var claimed bool
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		claimed, err = tx.ClaimSettlement(s.RoomID, s.Round)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("claiming settlement: %w", err)
	}
	if !claimed {
		l.metrics.Settlements.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	if err := l.UpdateMultiplayerGameScores(ctx, s.WinnerID, s.PlayerIDs); err != nil {
		l.metrics.Settlements.WithLabelValues("failed").Inc()
		return true, err
	}
	l.metrics.Settlements.WithLabelValues("applied").Inc()
	return true, nil
}
