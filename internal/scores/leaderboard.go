package scores

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"typerace/internal/aggregate"
	"typerace/internal/store"
)

const (
	TopN            = 10
	defaultPageSize = 10
	maxPageSize     = 100
	profileFanOut   = 4
)

type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	TotalGames int    `json:"totalGames"`
}

type Rank struct {
	Rank         int `json:"rank"`
	Score        int `json:"score"`
	TotalPlayers int `json:"totalPlayers"`
}

// GetLeaderboard returns the top scorers, highest first. Ranks and scores come
// from one read of the index; profiles are loaded afterwards in parallel.
func (l *Ledger) GetLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var top []aggregate.Entry
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		ix := tx.Leaderboard()
		total, err := ix.Count(aggregate.Bounds{})
		if err != nil {
			return err
		}
		top = make([]aggregate.Entry, 0, min(TopN, total))
		for i := 0; i < min(TopN, total); i++ {
			e, err := ix.At(i)
			if err != nil {
				return err
			}
			top = append(top, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard index: %w", err)
	}

	board := make([]LeaderboardEntry, len(top))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileFanOut)
	for i, e := range top {
		g.Go(func() error {
			entry := LeaderboardEntry{Rank: i + 1, UserID: e.ID, Score: e.Key, Name: "Anonymous"}
			err := l.store.WithTx(gctx, func(tx store.Tx) error {
				u, err := tx.GetUser(e.ID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				entry.Name = u.DisplayName()
				entry.Wins = u.Wins
				entry.Losses = u.Losses
				entry.TotalGames = u.TotalGames
				return nil
			})
			if err != nil {
				return fmt.Errorf("loading profile %s: %w", e.ID, err)
			}
			board[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return board, nil
}

// GetUserRank is one more than the number of strictly higher scores. It
// returns nil for users that have never been scored.
func (l *Ledger) GetUserRank(ctx context.Context, userID string) (*Rank, error) {
	var rank *Rank
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUser(userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if u.Score == nil {
			return nil
		}
		ix := tx.Leaderboard()
		above, err := ix.Count(aggregate.Above(*u.Score))
		if err != nil {
			return err
		}
		total, err := ix.Count(aggregate.Bounds{})
		if err != nil {
			return err
		}
		rank = &Rank{Rank: above + 1, Score: *u.Score, TotalPlayers: total}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("computing rank: %w", err)
	}
	return rank, nil
}

// LeaderboardPage walks the index upwards from minScore.
func (l *Ledger) LeaderboardPage(ctx context.Context, minScore, pageSize int) ([]aggregate.Entry, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	var page []aggregate.Entry
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		page, err = tx.Leaderboard().Paginate(aggregate.From(minScore), pageSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("paginating leaderboard: %w", err)
	}
	return page, nil
}

// Backfill rebuilds the index from user stats and returns how many users it
// indexed. Other index writers are excluded while it runs.
func (l *Ledger) Backfill(ctx context.Context) (int, error) {
	var processed int
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		processed = 0
		if err := tx.LockLeaderboard(); err != nil {
			return err
		}
		ix := tx.Leaderboard()
		if err := ix.Clear(); err != nil {
			return err
		}
		users, err := tx.ListScoredUsers()
		if err != nil {
			return err
		}
		for _, u := range users {
			if err := ix.Insert(aggregate.Entry{Key: *u.Score, ID: u.ID}); err != nil && !errors.Is(err, aggregate.ErrDuplicateEntry) {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("backfilling leaderboard: %w", err)
	}
	l.logger.Info().Int("processed", processed).Msg("leaderboard backfilled")
	return processed, nil
}
