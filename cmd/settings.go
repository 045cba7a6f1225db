// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/battmon/internal/logging"
	"github.com/Thermoquad/battmon/pkg/settings"
)

var (
	settingsFlash    string
	settingsYAML     bool
	settingsDefaults bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect or reset a flash image offline",
	Long: `Work on the flash image used by "battmon serve" without running the monitor.

The image is locked while in use, so these commands wait for a running
monitor to finish any write in progress.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Decode the stored settings record",
	RunE:  runSettingsShow,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the settings record",
	Long: `Erase the settings sector. The monitor writes defaults on its next start.
With --defaults the default record is written immediately instead.`,
	RunE: runSettingsReset,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsResetCmd)
	settingsCmd.PersistentFlags().StringVar(&settingsFlash, "flash", "", "Flash image path (default from config)")
	settingsShowCmd.Flags().BoolVar(&settingsYAML, "yaml", false, "Print only the thresholds as YAML")
	settingsResetCmd.Flags().BoolVar(&settingsDefaults, "defaults", false, "Write the default record")
}

// openExistingFlash opens the configured image, refusing to create one
func openExistingFlash(cmd *cobra.Command) (*settings.FileFlash, string, error) {
	path := cfg.Serve.Flash
	if cmd.Flags().Changed("flash") {
		path = settingsFlash
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, path, fmt.Errorf("flash image: %w", err)
	}
	flash, err := settings.OpenFileFlash(path, st.Size(), cfg.Serve.SectorSize)
	if err != nil {
		return nil, path, fmt.Errorf("opening flash image: %w", err)
	}
	return flash, path, nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	flash, path, err := openExistingFlash(cmd)
	if err != nil {
		return err
	}
	defer flash.Close()

	info := settings.Inspect(flash)
	if settingsYAML {
		if info.Err != nil {
			return info.Err
		}
		return writeSettingsYAML(os.Stdout, info.Config)
	}

	fmt.Printf("Image:    %s (%d bytes, %d byte sectors)\n", path, flash.Size(), flash.SectorSize())
	fmt.Printf("Record:   offset 0x%X\n", info.Offset)
	switch {
	case info.Erased:
		fmt.Printf("Status:   erased (defaults are written on next start)\n")
	case info.Err != nil:
		fmt.Printf("Magic:    0x%08X\n", info.Magic)
		fmt.Printf("Version:  %d\n", info.Version)
		fmt.Printf("Status:   \033[1;31minvalid\033[0m (%v)\n", info.Err)
	default:
		fmt.Printf("Magic:    0x%08X\n", info.Magic)
		fmt.Printf("Version:  %d\n", info.Version)
		fmt.Printf("Status:   valid\n")
		fmt.Printf("Settings: %s\n", info.Config)
	}
	return nil
}

func writeSettingsYAML(w io.Writer, c settings.Config) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(c)
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	flash, path, err := openExistingFlash(cmd)
	if err != nil {
		return err
	}
	defer flash.Close()

	store := settings.NewStore(flash, settings.StoreOptions{Logger: logging.Component(logger, "settings")})
	if settingsDefaults {
		if err := store.Save(settings.Defaults()); err != nil {
			return err
		}
		fmt.Printf("Wrote defaults to %s: %s\n", path, settings.Defaults())
		return flash.Sync()
	}

	if err := store.Reset(); err != nil {
		return err
	}
	fmt.Printf("Erased settings record in %s\n", path)
	return flash.Sync()
}
