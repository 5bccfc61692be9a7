package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nlsql/nlsql/internal/config"
	"github.com/nlsql/nlsql/internal/paths"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage nlsql configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Create a default configuration file at the config path. If a file
already exists, use --force to overwrite it.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show the paths nlsql uses",
	Args:  cobra.NoArgs,
	RunE:  runConfigPaths,
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing configuration")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathsCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(os.Stdout, cfg)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	printSuccess("Wrote %s", path)
	return nil
}

func runConfigPaths(cmd *cobra.Command, args []string) error {
	p := paths.GetPaths()
	rows := [][]string{
		{"config", config.GetConfigPath()},
		{"config dir", p.ConfigDir},
		{"data dir", p.DataDir},
		{"cache dir", p.CacheDir},
		{"database", paths.GetDatabasePath()},
		{"history index", paths.GetHistoryIndexPath()},
		{"images", paths.GetImagesPath()},
	}
	if jsonOutput() {
		m := make(map[string]string, len(rows))
		for _, r := range rows {
			m[r[0]] = r[1]
		}
		return printJSON(os.Stdout, m)
	}
	fmt.Println(renderTable([]string{"name", "path"}, rows))
	return nil
}
