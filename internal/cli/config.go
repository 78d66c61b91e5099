// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ollachat/internal/config"
)

// =============================================================================
// CONFIG
// =============================================================================

type configCommander struct {
	global *globalOptions
}

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmder := &configCommander{global: g}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change settings",
		Long: `Read and change settings in the config file.

Keys use dot notation, for example chat.think_enabled or server.port.
A running chat picks up saved changes without a restart.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.get(cmd, args[0])
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Change one setting and save the file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.set(cmd, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmder.show(cmd)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := cmder.path()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List every setting key",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, k := range config.Keys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			},
		},
	)
	return cmd
}

func (c *configCommander) path() (string, error) {
	if c.global.configPath != "" {
		return c.global.configPath, nil
	}
	return config.ConfigPath()
}

// get prints the effective value, with environment and flag overrides.
func (c *configCommander) get(cmd *cobra.Command, key string) error {
	cfg, _, err := c.global.loadConfig()
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func (c *configCommander) set(cmd *cobra.Command, key, value string) error {
	path, err := c.path()
	if err != nil {
		return err
	}
	if err := updateConfigFile(path, key, value); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("%s = %s", key, value)))
	return nil
}

func (c *configCommander) show(cmd *cobra.Command) error {
	cfg, path, err := c.global.loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, infoStyle.Render("# "+path))
	return toml.NewEncoder(out).Encode(cfg)
}

// loadFileConfig reads only what the file at path holds, without the
// environment or flag overrides, so saving it back does not persist them.
func loadFileConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return nil, &configError{err: err}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

// updateConfigFile sets one key in the file at path and saves it.
func updateConfigFile(path, key, value string) error {
	cfg, err := loadFileConfig(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return &usageError{msg: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{msg: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return &configError{err: err}
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return &configError{err: err}
	}
	return nil
}
