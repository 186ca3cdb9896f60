package ansicolor

import (
	"os"
	"runtime"

	"github.com/mattn/go-isatty"
)

// See this file for a good color reference:
// https://github.com/fatih/color/blob/master/color.go

var Reset = "\033[0m"
var Bold = "\033[1m"
var Faint = "\033[2m"

var Red = "\033[31m"
var Green = "\033[32m"
var Yellow = "\033[33m"
var Blue = "\033[34m"
var Purple = "\033[35m"
var Cyan = "\033[36m"
var Gray = "\033[37m"

var BgRed = "\033[41m"
var BgGreen = "\033[42m"
var BgYellow = "\033[43m"
var BgBlue = "\033[44m"

func init() {
	if !Enabled() {
		Disable()
	}
}

// Enabled reports whether stderr can render escape codes. NO_COLOR
// (https://no-color.org) always wins.
func Enabled() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}

func Disable() {
	Reset = ""
	Bold = ""
	Faint = ""
	Red = ""
	Green = ""
	Yellow = ""
	Blue = ""
	Purple = ""
	Cyan = ""
	Gray = ""
	BgRed = ""
	BgGreen = ""
	BgYellow = ""
	BgBlue = ""
}
