package arcade

// GameTypes lists the arcade shells clients can embed. The server treats the
// game itself as a black box; the tag only rides along on session state so
// every client renders the same game.
var GameTypes = []string{
	"snake",
	"breakout",
	"asteroids",
	"runner",
	"flappy",
	"tetris",
	"pong",
	"invaders",
	"maze",
	"jumper",
}

// ValidGameType reports whether t names a known game shell.
func ValidGameType(t string) bool {
	for _, g := range GameTypes {
		if g == t {
			return true
		}
	}
	return false
}
