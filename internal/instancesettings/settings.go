// Package instancesettings holds the value object spec.md §3 calls
// InstanceSettings: everything needed to describe one intended run,
// shared by InstanceComposer and Supervisor so neither package depends on
// the other. Grounded on original_source/src/instance.rs's
// InstanceSettings builder (executable_path/saves_path/host/port/
// rcon_host/rcon_port/rcon_pass setters, platform-defaulted executable
// path, random rcon password).
package instancesettings

import (
	"fmt"
	"net"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"factorio-instanced/internal/factorioversion"
)

// Mod identifies a single declared mod dependency by name and version.
type Mod struct {
	Name    string
	Version string
}

// BaseMods controls which of the version≥2.0.0 base-game DLC modules are
// enabled in the generated mod-list.json.
type BaseMods struct {
	Base          bool
	ElevatedRails bool
	Quality       bool
	SpaceAge      bool
}

// Settings is the full InstanceSettings value object.
type Settings struct {
	EngineVersion factorioversion.Version
	Save          string

	Host net.IP
	Port int

	RconHost net.IP
	// RconPort of 0 means "allocate an ephemeral port at start time",
	// per spec.md §4.6 step 3 (the REDESIGN resolution: allocation is
	// deferred to start(), not to construction, unlike the original).
	RconPort int
	RconPass string

	Mods     []Mod
	BaseMods BaseMods

	ExecutablePath string
	SavesPath      string
}

// New returns Settings for engineVersion/save with every field defaulted
// the way original_source/src/instance.rs's InstanceSettings::new does:
// platform-specific executable path, "saves" subdirectory, 0.0.0.0 bind
// addresses, port 34197, an ephemeral RCON port request, and a random
// RCON password.
func New(engineVersion factorioversion.Version, save string) Settings {
	zero := net.IPv4zero
	return Settings{
		EngineVersion:  engineVersion,
		Save:           save,
		Host:           zero,
		Port:           34197,
		RconHost:       zero,
		RconPort:       0,
		RconPass:       randomPassword(),
		ExecutablePath: defaultExecutablePath(),
		SavesPath:      "saves",
	}
}

func defaultExecutablePath() string {
	if runtime.GOOS == "windows" {
		return "bin/x64/factorio.exe"
	}
	return "bin/x64/factorio"
}

// randomPassword derives a 32-character RCON password from a random
// UUIDv4, matching the original's 16-character alphanumeric sample with a
// library already present in the example corpus.
func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithExecutablePath overrides the default executable path.
func (s Settings) WithExecutablePath(path string) Settings {
	s.ExecutablePath = path
	return s
}

// WithSavesPath overrides the default saves subdirectory.
func (s Settings) WithSavesPath(path string) Settings {
	s.SavesPath = path
	return s
}

// WithHost overrides the bind address.
func (s Settings) WithHost(host net.IP) Settings {
	s.Host = host
	return s
}

// WithPort overrides the bind port.
func (s Settings) WithPort(port int) Settings {
	s.Port = port
	return s
}

// WithRconHost overrides the RCON bind address.
func (s Settings) WithRconHost(host net.IP) Settings {
	s.RconHost = host
	return s
}

// WithRconPort pins a specific RCON port, suppressing ephemeral
// allocation at start time.
func (s Settings) WithRconPort(port int) Settings {
	s.RconPort = port
	return s
}

// WithRconPass overrides the RCON password.
func (s Settings) WithRconPass(pass string) Settings {
	s.RconPass = pass
	return s
}

// WithMods overrides the declared mod list.
func (s Settings) WithMods(mods []Mod) Settings {
	s.Mods = mods
	return s
}

// WithBaseMods overrides the base-game DLC flags.
func (s Settings) WithBaseMods(baseMods BaseMods) Settings {
	s.BaseMods = baseMods
	return s
}

// RconAddr formats the rcon-bind argument value the engine expects.
func (s Settings) RconAddr() string {
	return fmt.Sprintf("%s:%d", s.RconHost, s.RconPort)
}
