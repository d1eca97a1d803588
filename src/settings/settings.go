package settings

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

type Arguments struct {
	// The file path to the data directory (collections, indexes, backups)
	DataDir string

	// Log directory setting; the server logs to stdout/stderr and does not
	// read this field
	LogDir string

	// Directory for journal files
	JournalDir string

	// Maximum size of a single journal file in bytes before rotation
	MaxJournalFileSize int64

	ConfigFile string

	// the host name or IP address to listen on
	Host string

	// the port number to listen on
	Port int

	// Strongly verbose logging
	Verbose bool

	AuthEnabled bool // Enable authentication

	// Number of decoded documents to keep in the collection storage engine's
	// cache (one cache shared by all collections)
	DocumentCacheSize int

	PrintToScreen bool
	Debug         bool

	Version string
}

var (
	instance *Arguments
	once     sync.Once
)

// GetSettings returns the process-wide settings singleton.
func GetSettings() *Arguments {
	once.Do(func() {
		instance = &Arguments{
			DataDir:            "./data",
			LogDir:             "./log_files",
			JournalDir:         "./journal",
			MaxJournalFileSize: 1000000,
			Host:               "127.0.0.1",
			Port:               1777,
			DocumentCacheSize:  1024,
		}
	})
	return instance
}

// LoadConfigFile merges values from a config file (YAML, JSON or TOML) into
// the arguments. Every field the file names overwrites the current value,
// including one set by a command-line flag; fields the file does not name
// keep their values.
func LoadConfigFile(args *Arguments, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if v.IsSet("datadir") {
		args.DataDir = v.GetString("datadir")
	}
	if v.IsSet("logdir") {
		args.LogDir = v.GetString("logdir")
	}
	if v.IsSet("journaldir") {
		args.JournalDir = v.GetString("journaldir")
	}
	if v.IsSet("maxjournalfilesize") {
		args.MaxJournalFileSize = v.GetInt64("maxjournalfilesize")
	}
	if v.IsSet("host") {
		args.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		args.Port = v.GetInt("port")
	}
	if v.IsSet("verbose") {
		args.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("auth") {
		args.AuthEnabled = v.GetBool("auth")
	}
	if v.IsSet("documentcachesize") {
		args.DocumentCacheSize = v.GetInt("documentcachesize")
	}
	if v.IsSet("debug") {
		args.Debug = v.GetBool("debug")
	}

	return nil
}
