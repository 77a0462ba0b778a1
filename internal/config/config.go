// Package config loads peer configuration for synclet's sender and
// receiver processes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Raqibreyaz/synclet/pkg/log"
)

// RunMode records which role a process plays (see SetMode). The sender
// reconciles and then watches its working tree; the receiver reconciles
// and then serves incoming messages. Nothing else reads the mode.
type RunMode string

const (
	SenderMode   RunMode = "sender"
	ReceiverMode RunMode = "receiver"
	AdminMode    RunMode = "admin"

	DefaultPort        = "9000"
	DefaultDataDir      = ".synclet/scratch"
	DefaultPeerSnapFile = ".synclet/peer.snap"
)

func (m *RunMode) String() string { return string(*m) }

func (m *RunMode) Set(value string) error {
	switch strings.ToLower(value) {
	case "sender", "s":
		*m = SenderMode
	case "receiver", "r":
		*m = ReceiverMode
	case "admin", "a":
		*m = AdminMode
	default:
		return fmt.Errorf("invalid mode: %s (valid options: sender, receiver, admin)", value)
	}
	return nil
}

func (m *RunMode) Type() string { return "mode" }

// PeerConfig describes one side of a sync pair: where its working
// directory is, which host/port to reach the other side on, and which
// files to ignore.
type PeerConfig struct {
	Session struct {
		Port         string   `yaml:"port"`
		Name         string   `yaml:"name"`
		WorkingDir   string   `yaml:"workingDir"`
		DataDir      string   `yaml:"dataDir"`
		PeerSnapFile string   `yaml:"peerSnapFile"`
		IgnoredFiles []string `yaml:"ignoredFiles"`
		Host         struct {
			URL string `yaml:"url"`
		} `yaml:"host"`
		Client struct {
			Token string `yaml:"token"`
		} `yaml:"client"`
	} `yaml:"session"`
}

// Port returns the configured listen/dial port, falling back to DefaultPort.
func (c PeerConfig) Port() string {
	if c.Session.Port == "" {
		return DefaultPort
	}
	return c.Session.Port
}

// DataDir returns the configured data dir, falling back to DefaultDataDir.
// ChunkStore sessions do not use it: each scratch directory sits beside
// its target file.
func (c PeerConfig) DataDir() string {
	if c.Session.DataDir == "" {
		return DefaultDataDir
	}
	return c.Session.DataDir
}

// PeerSnapFile returns the persisted peer snapshot cache path, falling
// back to DefaultPeerSnapFile.
func (c PeerConfig) PeerSnapFile() string {
	if c.Session.PeerSnapFile == "" {
		return DefaultPeerSnapFile
	}
	return c.Session.PeerSnapFile
}

var (
	mode RunMode

	peerConfig    PeerConfig
	peerSingleton sync.Once
)

func GetMode() *RunMode { return &mode }
func SetMode(m RunMode) { mode = m }

// Init loads the named config file exactly once per process.
func Init(cfgName string) PeerConfig {
	peerSingleton.Do(func() {
		peerConfig = Load(cfgName)
	})
	return peerConfig
}

func Get() PeerConfig { return peerConfig }

// Load reads and parses a named config file from the OS-specific config
// directory. A missing or malformed file yields a zero-value PeerConfig;
// callers apply their own defaults (Port, DataDir, PeerSnapFile).
func Load(name string) PeerConfig {
	var cfg PeerConfig
	path := filepath.Join(osSpecificConfigPath(), name+".yml")
	configContent, err := os.ReadFile(path)
	if err != nil {
		log.Error("Config '%s' not found at config path '%s'", name, path)
		return cfg
	}

	if err = yaml.Unmarshal(configContent, &cfg); err != nil {
		log.Error("Error in config '%s': could not parse config: %s", name, err.Error())
		return cfg
	}

	return cfg
}

func osSpecificConfigPath() string {
	switch runtime.GOOS {
	case "windows": // Well... windows
		return filepath.Join(os.Getenv("APPDATA"), "synclet")
	case "darwin": // Macos
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "synclet")
	default: // Linux, BSD, ...
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "synclet")
		}
		return filepath.Join(os.Getenv("HOME"), ".config", "synclet")
	}
}

// CreateConfigDir ensures the OS-specific config directory exists.
func CreateConfigDir() {
	path := osSpecificConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			log.Error("Config dir could not be created at %s: %s", path, err.Error())
			return
		}
		log.Info("Created config dir at %s", path)
		return
	}
	log.Info("Config directory already exists")
}
