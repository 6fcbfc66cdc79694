package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brogergvhs/noveld/internal/chapters"

	"github.com/spf13/cobra"
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence [file]",
	Short: "Order chapter titles (one per line) the way books are assembled",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() {
				_ = f.Close()
			}()
			in = f
		}

		refs, err := readTitles(in)
		if err != nil {
			return err
		}

		seq := chapters.Order(refs)
		out := cmd.OutOrStdout()
		for _, c := range seq.Chapters {
			num := "-"
			if c.HasNumber {
				num = fmt.Sprint(c.Number)
			}
			_, _ = fmt.Fprintf(out, "%4d  %-9s %6s  %s\n", c.Ref.Ordinal+1, c.Class, num, c.Ref.Title)
		}
		for _, issue := range seq.Issues {
			_, _ = fmt.Fprintln(out, "note:", issue)
		}
		return nil
	},
}

func readTitles(r io.Reader) ([]chapters.Ref, error) {
	var refs []chapters.Ref
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		title := strings.TrimSpace(sc.Text())
		if title == "" {
			continue
		}
		refs = append(refs, chapters.Ref{
			ID:      fmt.Sprint(len(refs) + 1),
			Title:   title,
			Ordinal: len(refs),
		})
	}
	return refs, sc.Err()
}

func init() {
	rootCmd.AddCommand(sequenceCmd)
}
