package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ceyewan/meshlink/config"
	"github.com/ceyewan/meshlink/mesh"
)

var version = "dev"

type rootFlags struct {
	configName string
	configDirs []string
	envPrefix  string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "meshd",
		Short:         "In-process service mesh core",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configName, "config-name", "meshd", "config file name without extension")
	root.PersistentFlags().StringSliceVar(&flags.configDirs, "config-dir", []string{".", "./configs"}, "config search paths")
	root.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", config.DefaultEnvPrefix, "environment variable prefix")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newDemoCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	return root
}

// load 读取配置，没有配置文件时使用各组件默认值
func (f *rootFlags) load(ctx context.Context) (*mesh.Config, config.Loader, error) {
	return mesh.LoadConfig(ctx,
		config.WithConfigName(f.configName),
		config.WithConfigPaths(f.configDirs...),
		config.WithEnvPrefix(f.envPrefix),
		config.WithAllowEmpty(true),
	)
}

func newConfigCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the loaded configuration with mesh defaults applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load(cmd.Context())
			if err != nil {
				return err
			}
			m, err := mesh.New(cfg)
			if err != nil {
				return err
			}
			defer m.Stop(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m.Config())
		},
	}
}
