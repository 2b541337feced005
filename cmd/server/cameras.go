package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List the registered cameras",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		cameras, err := repo.ListCameras(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list cameras: %w", err)
		}
		if len(cameras) == 0 {
			fmt.Println("No cameras registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSOURCE\tREGISTERED")
		for _, c := range cameras {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name(), c.SourceURI, c.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(camerasCmd)
}
