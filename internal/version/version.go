// Package version хранит сведения о сборке, заполняемые через -ldflags.
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

const unknown = "unknown"

// Значения подставляются линковщиком: -X .../internal/version.version=v1.2.3.
var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		commit, date = fromSettings(info.Settings, commit, date)
	}
}

// fromSettings дополняет commit и date из VCS-меток go build, если
// ldflags их не задали.
func fromSettings(settings []debug.BuildSetting, commit, date string) (string, string) {
	for _, s := range settings {
		if s.Value == "" {
			continue
		}
		switch {
		case s.Key == "vcs.revision" && commit == unknown:
			commit = s.Value
		case s.Key == "vcs.time" && date == unknown:
			date = s.Value
		}
	}
	return commit, date
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// ShortCommit обрезает ревизию до 12 символов.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 12 {
		return b.Commit[:12]
	}
	return b.Commit
}

// Fields возвращает поля для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.ShortCommit(),
		"built":   b.Date,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("orders-cqrs %s (commit %s, built %s)", b.Version, b.ShortCommit(), b.Date)
}
