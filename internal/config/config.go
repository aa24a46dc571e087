// Package config loads the anysyncd INI configuration file: one [global]
// section of defaults plus one section per configured syncer.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// HandlerKind is a closed set of syncer variants. Per spec.md §9's
// "dynamic dispatch to handler classes" redesign note, adding a variant is
// a source change, not a runtime plugin.
type HandlerKind string

const (
	// HandlerSimple mirrors one local path to one local/remote path with no
	// freshness check or two-phase commit.
	HandlerSimple HandlerKind = "simple"
	// HandlerTwoPhase is the full consistency pipeline described in
	// spec.md §4: local mirror, peer freshness check, distribute, commit.
	HandlerTwoPhase HandlerKind = "twophase"
)

const (
	defaultFilter        = `\.(swp|tmp)$`
	defaultWaitingTime   = 5 * time.Second
	defaultRetryInterval = 2 * time.Second
	defaultStateDir      = "/var/lib/anysyncd"
)

// Global holds [global]-section defaults and daemon-wide settings.
type Global struct {
	LogFile  string
	LogLevel string
	StateDir string
	SMTPAddr string
}

// Syncer holds one configured replication unit's fully resolved settings
// (global defaults already applied).
type Syncer struct {
	Name                string
	Handler             HandlerKind
	Watcher             string
	Filter              *regexp.Regexp
	WaitingTime         time.Duration
	RetryInterval       time.Duration
	Cron                string
	NoopFile            string
	AdminFrom           string
	AdminTo             string
	RemotePrefixCommand string
	GroupName           string
	DistributeCommand   string

	// HandlerSimple fields.
	From string
	To   string

	// HandlerTwoPhase fields.
	ProdDir     string
	CsyncDir    string
	RemoteHosts []string
}

// Config is the fully parsed and validated anysyncd configuration.
type Config struct {
	Global  Global
	Syncers []Syncer
	// Skipped records syncer sections that failed validation, keyed by
	// section name, so the daemon can log them and continue with the rest
	// per spec.md §7 ("the syncer is skipped... daemon continues").
	Skipped map[string]error
}

// Load reads and validates path. A missing file or an unparseable INI
// document is a fatal error per spec.md §7 ("missing configuration file"
// is fatal-to-daemon); an individual invalid syncer section is not — it is
// recorded in Config.Skipped instead.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	globalSec := f.Section("global")
	global := Global{
		LogFile:  globalSec.Key("logfile").String(),
		LogLevel: firstNonEmpty(globalSec.Key("loglevel").String(), "info"),
		StateDir: firstNonEmpty(globalSec.Key("state_dir").String(), defaultStateDir),
		SMTPAddr: globalSec.Key("smtp_addr").String(),
	}

	cfg := &Config{Global: global, Skipped: map[string]error{}}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection || name == "global" {
			continue
		}
		syncer, err := parseSyncer(name, sec, globalSec)
		if err != nil {
			cfg.Skipped[name] = err
			continue
		}
		cfg.Syncers = append(cfg.Syncers, *syncer)
	}

	return cfg, nil
}

// keyOrDefault reads key from sec, falling back to globalSec, then to def.
func keyOrDefault(sec, globalSec *ini.Section, key, def string) string {
	if sec.HasKey(key) {
		if v := sec.Key(key).String(); v != "" {
			return v
		}
	}
	if globalSec != nil && globalSec.HasKey(key) {
		if v := globalSec.Key(key).String(); v != "" {
			return v
		}
	}
	return def
}

func parseSyncer(name string, sec, globalSec *ini.Section) (*Syncer, error) {
	handlerStr := firstNonEmpty(keyOrDefault(sec, globalSec, "handler", ""), string(HandlerTwoPhase))
	handler := HandlerKind(handlerStr)
	if handler != HandlerSimple && handler != HandlerTwoPhase {
		return nil, fmt.Errorf("config[%s]: unrecognized handler %q", name, handlerStr)
	}

	watcherDir := keyOrDefault(sec, globalSec, "watcher", "")
	if watcherDir == "" {
		return nil, fmt.Errorf("config[%s]: missing required key 'watcher'", name)
	}

	filterExpr := firstNonEmpty(keyOrDefault(sec, globalSec, "filter", ""), defaultFilter)
	filterRe, err := regexp.Compile(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("config[%s]: invalid filter regex %q: %w", name, filterExpr, err)
	}

	waitingTime := durationSeconds(keyOrDefault(sec, globalSec, "waiting_time", ""), defaultWaitingTime)
	retryInterval := durationSeconds(keyOrDefault(sec, globalSec, "retry_interval", ""), defaultRetryInterval)

	s := &Syncer{
		Name:                name,
		Handler:             handler,
		Watcher:             watcherDir,
		Filter:              filterRe,
		WaitingTime:         waitingTime,
		RetryInterval:       retryInterval,
		Cron:                keyOrDefault(sec, globalSec, "cron", ""),
		NoopFile:            keyOrDefault(sec, globalSec, "noop_file", ""),
		AdminFrom:           keyOrDefault(sec, globalSec, "admin_from", ""),
		AdminTo:             keyOrDefault(sec, globalSec, "admin_to", ""),
		RemotePrefixCommand: keyOrDefault(sec, globalSec, "remote_prefix_command", ""),
	}

	switch handler {
	case HandlerSimple:
		s.From = keyOrDefault(sec, globalSec, "from", "")
		s.To = keyOrDefault(sec, globalSec, "to", "")
		if s.From == "" || s.To == "" {
			return nil, fmt.Errorf("config[%s]: handler=simple requires 'from' and 'to'", name)
		}
	case HandlerTwoPhase:
		s.ProdDir = keyOrDefault(sec, globalSec, "prod_dir", "")
		s.CsyncDir = keyOrDefault(sec, globalSec, "csync_dir", "")
		hosts := keyOrDefault(sec, globalSec, "remote_hosts", "")
		if s.ProdDir == "" || s.CsyncDir == "" || hosts == "" {
			return nil, fmt.Errorf("config[%s]: handler=twophase requires 'prod_dir', 'csync_dir', and 'remote_hosts'", name)
		}
		s.RemoteHosts = strings.Fields(hosts)
		s.GroupName = firstNonEmpty(keyOrDefault(sec, globalSec, "group_name", ""), name)
		s.DistributeCommand = firstNonEmpty(keyOrDefault(sec, globalSec, "distribute_command", ""), "csync2 -xv "+s.GroupName)
	}

	return s, nil
}

func durationSeconds(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	n, err := parseIntSeconds(raw)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func parseIntSeconds(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	return n, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
