// Package config handles pipeline configuration loading and management.
package config

// Config holds all pipeline settings.
type Config struct {
	Assets  AssetsConfig  `yaml:"assets"`
	Build   BuildConfig   `yaml:"build"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// AssetsConfig holds source and output locations.
type AssetsConfig struct {
	SpriteRoot string `yaml:"sprite_root"` // One subdirectory per sheet
	OutputDir  string `yaml:"output_dir"`  // Where atlases and metadata land
}

// BuildConfig holds build behavior settings.
type BuildConfig struct {
	Production      bool `yaml:"production"`       // Slower, smaller artifact encoding
	WatchDebounceMS int  `yaml:"watch_debounce_ms"` // Event batch window in watch mode
}

// ServerConfig holds dev server settings for watch mode.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Assets: AssetsConfig{
			SpriteRoot: "assets/sprites",
			OutputDir:  "dist/assets",
		},
		Build: BuildConfig{
			Production:      false,
			WatchDebounceMS: 150,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8790",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
