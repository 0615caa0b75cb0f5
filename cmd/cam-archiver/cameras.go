// cmd/cam-archiver/cameras.go
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "Lista as câmeras configuradas",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := cfg.Registry()
		if err != nil {
			return err
		}

		type row struct {
			ID     string `json:"id"`
			Source string `json:"source"`
		}
		var rows []row
		for _, id := range reg.IDs() {
			src, _ := reg.Resolve(id)
			rows = append(rows, row{ID: id, Source: redact(src)})
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSOURCE")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\n", r.ID, r.Source)
		}
		return w.Flush()
	},
}

// redact esconde a senha embutida na URL RTSP.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
