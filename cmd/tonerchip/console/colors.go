package console

import "github.com/fatih/color"

var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Color returns the print function matching a cartridge color name.
func Color(name string) func(a ...interface{}) string {
	switch name {
	case "Yellow":
		return Yellow
	case "Magenta":
		return color.New(color.FgMagenta).SprintFunc()
	case "Cyan":
		return Cyan
	case "Black":
		return Bold
	}
	return White
}
