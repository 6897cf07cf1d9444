package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xmux"
	// natives register themselves by name
	_ "github.com/trickstertwo/xmux/adapter/memory"
	_ "github.com/trickstertwo/xmux/adapter/redisstream"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Native     string
	Codec      string
	Options    map[string]string
	Verbose    bool
	Console    bool

	logger *xlog.Logger
}

// NewRootCommand creates the root command for the xmux CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "xmux",
		Short: "xmux - session multiplexer over a blocking native client",
		Long:  "Run and poke an xmux runtime: many logical sessions sharing one blocking receive loop.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zerolog.Config{
				Console:           opts.Console,
				ConsoleTimeFormat: time.RFC3339Nano,
			}
			if opts.Verbose {
				cfg.MinLevel = xlog.LevelDebug
				cfg.Caller = true
				cfg.CallerSkip = 5
			}
			opts.logger = zerolog.Use(cfg).With(xlog.Str("app", "xmux"))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML runtime config")
	cmd.PersistentFlags().StringVar(&opts.Native, "native", "", "native name, overrides the config ("+strings.Join(xmux.Natives(), "|")+")")
	cmd.PersistentFlags().StringVar(&opts.Codec, "codec", "", "wire codec, overrides the config ("+strings.Join(xmux.Codecs(), "|")+")")
	cmd.PersistentFlags().StringToStringVarP(&opts.Options, "opt", "o", nil, "native option key=value, overrides the config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Console, "console", true, "human readable log output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewExecCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// runtimeConfig merges the config file with flag overrides.
func (o *RootOptions) runtimeConfig() (xmux.Config, error) {
	var cfg xmux.Config
	if o.ConfigPath != "" {
		var err error
		if cfg, err = xmux.LoadConfig(o.ConfigPath); err != nil {
			return cfg, err
		}
	}
	if o.Native != "" && o.Native != cfg.Native.Name {
		cfg.Native = xmux.NativeConfig{Name: o.Native}
	}
	if cfg.Native.Name == "" {
		cfg.Native.Name = "memory"
	}
	if len(o.Options) > 0 && cfg.Native.Options == nil {
		cfg.Native.Options = map[string]any{}
	}
	for k, v := range o.Options {
		cfg.Native.Options[k] = v
	}
	if o.Codec != "" {
		cfg.Codec = o.Codec
	}
	// both ends of the wire must agree
	if _, set := cfg.Native.Options["codec"]; !set && cfg.Codec != "" {
		if cfg.Native.Options == nil {
			cfg.Native.Options = map[string]any{}
		}
		cfg.Native.Options["codec"] = cfg.Codec
	}
	return cfg, nil
}

func (o *RootOptions) build(init func(rb *xmux.RuntimeBuilder)) (*xmux.Runtime, error) {
	cfg, err := o.runtimeConfig()
	if err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = xlog.Default()
	}
	rt, _, err := xmux.New(func(rb *xmux.RuntimeBuilder) {
		rb.WithConfig(cfg).WithLogger(logger)
		if init != nil {
			init(rb)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	return rt, nil
}
