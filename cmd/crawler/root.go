package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relentless-tracks/internal/config"
	"relentless-tracks/internal/platform"
)

const rootExample = `  # YouTube search
  crawler youtube -k "lofi hip hop" -k "jazz music" -d 2

  # YouTube channel
  crawler youtube -u https://www.youtube.com/@channel -d 1

  # SoundCloud
  crawler soundcloud -u https://soundcloud.com/discover -d 3

  # Custom settings
  crawler youtube -k ambient -d 2 -w 16 -o ~/Music/Ambient -q 320 -f flac`

// Flag name to config key. Flags only override when set explicitly.
var flagKeys = map[string]string{
	"urls":             "urls",
	"keywords":         "keywords",
	"depth":            "max_depth",
	"workers":          "max_workers",
	"output":           "download_folder",
	"quality":          "audio_quality",
	"format":           "audio_format",
	"db":               "db_path",
	"crawl-id":         "crawl_id",
	"verbose":          "verbose",
	"quiet":            "quiet",
	"log-format":       "log_format",
	"clear-state":      "clear_state",
	"retry-limit":      "retry_limit",
	"page-timeout":     "page_timeout",
	"download-timeout": "download_timeout",
	"metrics-addr":     "metrics_addr",
	"ignore-robots":    "ignore_robots",
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   fmt.Sprintf("crawler <%s> (-u URL... | -k KEYWORD...) [flags]", strings.Join(platform.Names(), "|")),
		Short: "Crawl media sites and download the tracks found",
		Long: "Crawl media sites from seed URLs or search keywords, discover track pages up to\n" +
			"a bounded link depth and download them as audio. Progress is saved, so an\n" +
			"interrupted crawl resumes where it stopped.",
		Example:       rootExample,
		Args:          cobra.MinimumNArgs(1),
		ValidArgs:     platform.Names(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceP("urls", "u", nil, "starting URLs to crawl (repeatable or comma-separated)")
	flags.StringSliceP("keywords", "k", nil, "search keywords (YouTube only)")
	flags.IntP("depth", "d", 2, "maximum crawl depth")
	flags.IntP("workers", "w", 8, "number of parallel download workers")
	flags.StringP("output", "o", "", "output folder for downloads (default ~/Music/Downloads)")
	flags.StringP("quality", "q", "192", "audio quality/bitrate")
	flags.StringP("format", "f", "mp3", "audio format: "+strings.Join(config.AudioFormats, ", "))
	flags.String("db", "", "state store: file path, sqlite://path or redis://host:port/db (default <platform>.db)")
	flags.String("crawl-id", "", "key for the saved state (default the platform name)")
	flags.BoolP("verbose", "v", false, "verbose output (debug level)")
	flags.Bool("quiet", false, "minimal output (errors only)")
	flags.String("log-format", "console", "log encoding: console or json")
	flags.Bool("clear-state", false, "clear saved state and start fresh")
	flags.Int("retry-limit", 3, "download attempts per track")
	flags.Duration("page-timeout", 0, "timeout for exploring one page (default 45s)")
	flags.Duration("download-timeout", 0, "timeout for one download attempt (default 10m)")
	flags.String("metrics-addr", "", "serve /metrics and /stats on this address during the crawl")
	flags.Bool("ignore-robots", false, "do not consult robots.txt")
	flags.StringVar(&cfgFile, "config", "", "YAML config file")

	// Accepted for compatibility with older invocations; pages are fetched
	// without a browser, so they have no effect.
	flags.IntP("scroll", "s", 10, "number of page scrolls")
	flags.Bool("no-headless", false, "show the browser window")
	for _, name := range []string{"scroll", "no-headless"} {
		if err := flags.MarkDeprecated(name, "pages are fetched without a browser; ignored"); err != nil {
			panic(fmt.Sprintf("deprecate flag %s: %v", name, err))
		}
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

// loadConfig merges the platform argument and any extra positional values
// (more URLs, or more keywords when -k was given) into the config.
func loadConfig(v *viper.Viper, cfgFile string, args []string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	v.Set("platform", args[0])
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if extra := args[1:]; len(extra) > 0 {
		if len(cfg.Keywords) > 0 {
			cfg.Keywords = append(cfg.Keywords, extra...)
		} else {
			cfg.URLs = append(cfg.URLs, extra...)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
