package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (%s, %s/%s)\n",
				buildinfo.Name, buildinfo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
