package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Version of the logrelay binaries
const Version = "0.1.0"

// Print renders the start-up banner of the named component.
func Print(component string) {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Log", pterm.NewRGB(46, 134, 193)),
		putils.LettersFromStringWithRGB("Relay", pterm.NewRGB(0, 0, 0))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgBlue)).
			WithMargin(5).
			Sprint(pterm.White("LogRelay " + component)),
	)

	pterm.Info.Println(
		"Tails log files, breaks them into records and ships them to their destinations." +
			"\nVersion " + Version + ".",
	)
}
