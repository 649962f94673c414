package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/gatekeeper/internal/camera"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Access Log, Capture Scratch File)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP the access log table?") {
				st, err := openStore(cmd.Context())
				if err != nil {
					utils.Die("Database unavailable", err, nil)
				}
				fmt.Println("🗑️  Clearing Database...")
				err = st.Reset(cmd.Context())
				st.Close()
				if err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if confirm(reader, "⚠️  Are you sure you want to delete the capture scratch file?") {
				fmt.Println("🗑️  Clearing Capture Files...")
				cam := camera.New(cfg.Camera.Command, cfg.Camera.Args, cfg.Camera.OutputPath, cfg.Camera.Timeout)
				if err := cam.Cleanup(); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", cam.OutputPath, err)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the PostgreSQL access log")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete the capture scratch file")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
