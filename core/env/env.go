package env

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/flarco/g"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

var (
	HomeDir        = os.Getenv("SLINGCSV_HOME_DIR")
	HomeDirEnvFile = ""
	NoColor        = g.In(os.Getenv("SLINGCSV_LOGGING"), "NO_COLOR", "JSON")
	LogSink        func(*g.LogLine)
)

func init() {
	HomeDir = SetHomeDir("slingcsv")
	HomeDirEnvFile = GetEnvFilePath(HomeDir)
}

// SetHomeDir returns the home dir for name, from `<NAME>_HOME_DIR`
// or `~/.<name>` by default
func SetHomeDir(name string) string {
	envKey := strings.ToUpper(name) + "_HOME_DIR"
	dir := os.Getenv(envKey)
	if dir == "" {
		dir = path.Join(g.UserHomeDir(), "."+name)
		os.Setenv(envKey, dir)
	}
	return dir
}

func GetEnvFilePath(dir string) string {
	return path.Join(dir, "env.yaml")
}

// IsInteractiveTerminal checks if the current process is running in an interactive terminal
func IsInteractiveTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// SetLogger sets the log level and output format from the environment.
// DEBUG=TRACE|LOW|<any> raises the level, SLINGCSV_LOGGING=NO_COLOR|JSON
// changes the output format.
func SetLogger() {
	g.SetZeroLogLevel(zerolog.InfoLevel)
	g.DisableColor = !cast.ToBool(os.Getenv("SLINGCSV_LOGGING_COLOR"))

	if os.Getenv("DEBUG") == "TRACE" {
		g.SetZeroLogLevel(zerolog.TraceLevel)
		g.SetLogLevel(g.TraceLevel)
	} else if os.Getenv("DEBUG") != "" {
		g.SetZeroLogLevel(zerolog.DebugLevel)
		g.SetLogLevel(g.DebugLevel)
		if os.Getenv("DEBUG") == "LOW" {
			g.SetLogLevel(g.LowDebugLevel)
		}
	}

	outputOut := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	outputErr := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	outputOut.FormatErrFieldValue = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
	outputErr.FormatErrFieldValue = func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}

	switch os.Getenv("SLINGCSV_LOGGING") {
	case "NO_COLOR":
		NoColor = true
		outputOut.NoColor = true
		outputErr.NoColor = true
		g.ZLogOut = zerolog.New(outputOut).With().Timestamp().Logger()
		g.ZLogErr = zerolog.New(outputErr).With().Timestamp().Logger()
	case "JSON":
		// stdout carries the data, so JSON logs go to stderr
		NoColor = true
		zerolog.LevelFieldName = "lvl"
		zerolog.MessageFieldName = "msg"
		g.ZLogOut = zerolog.New(os.Stderr).With().Timestamp().Logger()
		g.ZLogErr = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		outputErr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "3:04PM"}
		if g.IsDebugLow() {
			outputErr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
		}
		g.ZLogOut = zerolog.New(outputErr).With().Timestamp().Logger()
		g.ZLogErr = zerolog.New(outputErr).With().Timestamp().Logger()
	}
}

// InitLogger initializes the g Logger
func InitLogger() {
	g.SetLogHook(
		g.NewLogHook(
			g.DebugLevel,
			func(ll *g.LogLine) { processLogEntry(ll) },
		),
	)

	SetLogger()
}

func processLogEntry(ll *g.LogLine) {
	if LogSink != nil {
		LogSink(ll)
	}
}

// Println prints to stderr, outside of the logger
func Println(text string) {
	fmt.Fprintf(os.Stderr, "%s\n", text)
}

func RedString(text string) string {
	if NoColor {
		return text
	}
	return g.Colorize(g.ColorRed, text)
}

func GreenString(text string) string {
	if NoColor {
		return text
	}
	return g.Colorize(g.ColorGreen, text)
}

func CyanString(text string) string {
	if NoColor {
		return text
	}
	return g.Colorize(g.ColorCyan, text)
}

func DarkGrayString(text string) string {
	if NoColor {
		return text
	}
	return g.Colorize(g.ColorDarkGray, text)
}

// CleanWindowsPath converts backslashes to forward slashes
func CleanWindowsPath(path string) string {
	return strings.ReplaceAll(path, `\`, `/`)
}
