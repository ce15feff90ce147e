package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franksops/bbdrain/config"
	"github.com/franksops/bbdrain/engine"
	"github.com/franksops/bbdrain/provider"
	"github.com/franksops/bbdrain/store"
)

func newJournalCmd() *cobra.Command {
	var (
		path   string
		verify bool
		dest   string
	)

	cmd := &cobra.Command{
		Use:   "journal [run-id]",
		Short: "List journaled runs, or the operations of one run",
		Example: `  bbdrain journal --journal drain.db
  bbdrain journal --journal drain.db 6f1c3e0a-2b7d-4c55-9d1e-8f2a4b6c8d0e
  bbdrain journal --journal drain.db --verify 6f1c3e0a-2b7d-4c55-9d1e-8f2a4b6c8d0e
  bbdrain journal --journal drain.db --verify --dest s3://archive/job42 6f1c3e0a-2b7d-4c55-9d1e-8f2a4b6c8d0e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bs, err := store.NewBoltStore(path)
			if err != nil {
				return err
			}
			defer bs.Close()

			if len(args) == 0 {
				if verify {
					return errors.New("--verify needs a run id")
				}
				return printRuns(cmd.OutOrStdout(), bs)
			}
			if verify {
				return verifyRun(cmd.Context(), cmd.OutOrStdout(), bs, args[0], dest)
			}
			ops, err := bs.ListRun(args[0])
			if err != nil {
				return fmt.Errorf("failed to list run %s: %w", args[0], err)
			}
			return printOps(cmd.OutOrStdout(), ops)
		},
	}
	cmd.Flags().StringVar(&path, "journal", "bbdrain.db", "bbolt journal path")
	cmd.Flags().BoolVar(&verify, "verify", false, "re-read every completed write of the run and compare its CRC-64")
	cmd.Flags().StringVar(&dest, "dest", "", "drain destination, needed to verify an s3:// run")
	return cmd
}

func printRuns(w io.Writer, bs *store.BoltStore) error {
	runs, err := bs.Runs()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	for _, run := range runs {
		fmt.Fprintln(w, run)
	}
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("196"))
)

func printOps(w io.Writer, ops []*store.OpRecord) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SEQ", "KIND", "FROM", "TO", "BYTES", "STATE", "CRC64", "ERROR").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 5 && row >= 0 && row < len(ops) && ops[row].State != store.StateCompleted {
				return failedStyle
			}
			return cellStyle
		})

	for _, op := range ops {
		crc := ""
		if op.Checksum != 0 {
			crc = strconv.FormatUint(op.Checksum, 16)
		}
		t.Row(
			strconv.FormatUint(op.Seq, 10),
			op.Kind,
			op.FromFileName,
			op.ToFileName,
			humanize.IBytes(uint64(op.BytesWritten)),
			string(op.State),
			crc,
			op.Error,
		)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// verifyAccessor reads back what a run wrote. Local runs journal full paths,
// S3 runs journal keys relative to the destination prefix.
func verifyAccessor(ctx context.Context, dest string) (provider.FileAccessor, error) {
	cfg := &config.Config{Dest: dest}
	bucket, prefix, ok := cfg.S3Target()
	if !ok {
		return provider.NewLocalAccessor(""), nil
	}
	return provider.NewS3Accessor(ctx, bucket, prefix)
}

func verifyRun(ctx context.Context, w io.Writer, bs *store.BoltStore, runID, dest string) error {
	accessor, err := verifyAccessor(ctx, dest)
	if err != nil {
		return err
	}

	results, err := engine.NewJournal(bs, nil).Verify(runID, accessor)
	if err != nil {
		return fmt.Errorf("failed to verify run %s: %w", runID, err)
	}

	failed := 0
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SEQ", "TO", "OFFSET", "BYTES", "STATUS", "DETAIL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 4 && row >= 0 && row < len(results) && results[row].Status != engine.VerifyOK {
				return failedStyle
			}
			return cellStyle
		})
	for _, v := range results {
		offset, detail := "?", ""
		if v.Offset >= 0 {
			offset = strconv.FormatInt(v.Offset, 10)
		}
		switch v.Status {
		case engine.VerifyMismatch:
			failed++
			detail = fmt.Sprintf("crc64 %x, journaled %x", v.Actual, v.Record.Checksum)
		case engine.VerifyError:
			failed++
			detail = v.Err.Error()
		}
		t.Row(
			strconv.FormatUint(v.Record.Seq, 10),
			v.Record.ToFileName,
			offset,
			humanize.IBytes(uint64(v.Record.BytesWritten)),
			string(v.Status),
			detail,
		)
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d writes of run %s failed verification", failed, len(results), runID)
	}
	return nil
}
