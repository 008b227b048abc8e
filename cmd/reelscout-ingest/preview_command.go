package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/reelscout/internal/ingest"
)

// newPreviewCommand reports what load would write without contacting the
// embeddings provider or the database.
func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var chunkWords int

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show titles and chunk counts of the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := ingest.LoadFile(ctx.catalogPath)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(file.Titles))
			var totalChunks int
			for _, t := range file.Titles {
				dialogue, err := t.Dialogue()
				if err != nil {
					return err
				}
				chunks := len(ingest.Chunk(dialogue, chunkWords))
				totalChunks += chunks

				year := ""
				if t.Year > 0 {
					year = strconv.Itoa(t.Year)
				}
				rows = append(rows, []string{
					string(t.Kind),
					t.ID,
					t.Title,
					year,
					strconv.Itoa(len(t.Cast)),
					strconv.Itoa(len(strings.Fields(dialogue))),
					strconv.Itoa(chunks),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Kind", "ID", "Title", "Year", "Cast", "Words", "Chunks"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "%d titles, %d chunks at %d words per chunk\n", len(file.Titles), totalChunks, chunkWords)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkWords, "chunk-words", ingest.DefaultChunkWords, "Words per transcript chunk")
	return cmd
}
