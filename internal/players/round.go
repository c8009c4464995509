package players

import (
	"time"

	"typerace/internal/gamedata"
)

// StartRound clears a player's previous result and starts their clock at the
// shared round epoch. Readiness is kept.
func StartRound(p *gamedata.Player, start time.Time) {
	p.Progress = ""
	p.WPM = nil
	p.Accuracy = nil
	p.CompletionTime = nil
	p.StartTime = gamedata.TimePtr(start)
}

// ResetToLobby clears everything StartRound clears plus readiness and the
// round clock, so the player has to confirm again.
func ResetToLobby(p *gamedata.Player) {
	p.Progress = ""
	p.IsReady = false
	p.WPM = nil
	p.Accuracy = nil
	p.StartTime = nil
	p.CompletionTime = nil
}

// Freeze records a final result from the player's last known progress.
func Freeze(p *gamedata.Player, phrase string, end time.Time) {
	p.WPM = gamedata.IntPtr(WPM(p.Progress, p.StartTime, end))
	p.Accuracy = gamedata.IntPtr(Accuracy(p.Progress, phrase))
	p.CompletionTime = gamedata.TimePtr(end)
}

// Snapshot captures the fields kept in game history.
func Snapshot(p *gamedata.Player) gamedata.PlayerSnapshot {
	return gamedata.PlayerSnapshot{
		UserID:         p.UserID,
		Name:           p.Name,
		WPM:            p.WPM,
		Accuracy:       p.Accuracy,
		CompletionTime: p.CompletionTime,
	}
}

// AllReady reports whether the roster may start a round: at least min players
// and every one of them ready.
func AllReady(roster []*gamedata.Player, min int) bool {
	if len(roster) < min {
		return false
	}
	for _, p := range roster {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// Find returns the roster entry for userID, or nil.
func Find(roster []*gamedata.Player, userID string) *gamedata.Player {
	for _, p := range roster {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
