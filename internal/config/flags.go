package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagProduction = flag.Bool("production", false, "Production build (best compression)")
	flagSprites    = flag.String("sprites", "", "Sprite source root override")
	flagOut        = flag.String("out", "", "Artifact output directory override")
	flagAddr       = flag.String("addr", "", "Dev server address override")
	flagNoServe    = flag.Bool("noserve", false, "Disable the dev server in watch mode")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagProduction {
		cfg.Build.Production = true
	}
	if *flagSprites != "" {
		cfg.Assets.SpriteRoot = *flagSprites
	}
	if *flagOut != "" {
		cfg.Assets.OutputDir = *flagOut
	}
	if *flagAddr != "" {
		cfg.Server.Addr = *flagAddr
	}
	if *flagNoServe {
		cfg.Server.Enabled = false
	}
}
