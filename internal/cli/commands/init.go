package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mrc-ide/outpack-server/internal/store"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		pathArchive         string
		useFileStore        bool
		requireCompleteTree bool
	)

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Create an outpack repository",
		Long: `Create an outpack repository at path.

Running init again with the same settings is allowed; changing the settings
of an existing repository is an error.

Examples:
  outpack init /data/outpack --use-file-store --require-complete-tree
  outpack init . --path-archive archive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.InitOptions{
				UseFileStore:        useFileStore,
				RequireCompleteTree: requireCompleteTree,
			}
			if cmd.Flags().Changed("path-archive") {
				opts.PathArchive = &pathArchive
			}

			if err := store.Init(args[0], opts); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Initialised outpack repository at %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&pathArchive, "path-archive", "", "Directory for the unpacked archive")
	cmd.Flags().BoolVar(&useFileStore, "use-file-store", false, "Store files by hash under .outpack/files")
	cmd.Flags().BoolVar(&requireCompleteTree, "require-complete-tree", false, "Require every dependency to be present")

	return cmd
}

func rootPath(cmd *cobra.Command) (string, error) {
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		return root, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.Root, nil
}
