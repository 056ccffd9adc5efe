package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildMu      sync.RWMutex
	currentBuild = Build{Version: "dev", Commit: "unknown", GoVersion: runtime.Version()}

	buildGaugeOnce sync.Once
	buildGauge     = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "b2bstore_build_info",
			Help: "Constant 1, labelled with the running build.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetBuild records the running build and publishes it as b2bstore_build_info.
// A commit of "" or "dev" is replaced by the VCS revision stamped by the toolchain, if any.
func SetBuild(version, commit string) Build {
	if commit == "" || commit == "dev" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	b := Build{Version: version, Commit: commit, GoVersion: runtime.Version()}

	buildGaugeOnce.Do(func() {
		prometheus.MustRegister(buildGauge)
	})
	buildMu.Lock()
	currentBuild = b
	buildGauge.Reset()
	buildGauge.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	buildMu.Unlock()
	return b
}

// CurrentBuild returns what SetBuild last recorded.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return currentBuild
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}
