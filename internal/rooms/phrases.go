package rooms

// Phrases is the fixed set a round's target text is drawn from.
var Phrases = []string{
	"The quick brown fox jumps over the lazy dog",
	"Pack my box with five dozen liquor jugs",
	"How vexingly quick daft zebras jump",
	"Bright vixens jump; dozy fowl quack",
	"Sphinx of black quartz, judge my vow",
	"Two driven jocks help fax my big quiz",
	"Five quacking zephyrs jolt my wax bed",
	"The five boxing wizards jump quickly",
	"Jackdaws love my big sphinx of quartz",
	"Mr. Jock, TV quiz PhD., bags few lynx",
}

func RandomPhrase(r Rand) string {
	return Phrases[r.Intn(len(Phrases))]
}
