package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"tablesync/internal/column"
	"tablesync/internal/config"
	"tablesync/internal/files"
	"tablesync/internal/location"
	"tablesync/internal/logging"
	"tablesync/internal/remote"
	"tablesync/internal/syncerr"
	"tablesync/internal/tablestate"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd.Flags())
	rootCmd.Flags().String("column", "code", "Column that receives scanned values")
	rootCmd.Flags().StringArray("attach", nil, "Attach a file to every row: column=path")
	rootCmd.Flags().String("position", "", "Fixed position lat,lon for --stamp-location")
}

var rootCmd = &cobra.Command{
	Use:           "tablesync-scan <table>",
	Short:         "Reads barcodes from stdin and writes one row per barcode.",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)

		target, _ := cmd.Flags().GetString("column")
		attach, _ := cmd.Flags().GetStringArray("attach")
		position, _ := cmd.Flags().GetString("position")

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return scan(ctx, cfg, args[0], target, attach, position, os.Stdin, cmd.OutOrStdout())
	},
}

type attachment struct {
	column, name string
	data         []byte
}

func parseAttachments(specs []string) ([]attachment, error) {
	out := make([]attachment, 0, len(specs))
	for _, s := range specs {
		col, path, ok := strings.Cut(s, "=")
		if !ok || col == "" || path == "" {
			return nil, fmt.Errorf("bad --attach %q, want column=path", s)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, attachment{column: col, name: filepath.Base(path), data: data})
	}
	return out, nil
}

func fixedPosition(s string) (location.Provider, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("bad --position %q, want lat,lon", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, err
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return nil, err
	}
	d := location.Data{Latitude: la, Longitude: lo}
	return location.ProviderFunc(func(context.Context) (location.Data, error) { return d, nil }), nil
}

func scan(ctx context.Context, cfg config.Config, table, target string, attachSpecs []string, position string, in io.Reader, out io.Writer) error {
	attachments, err := parseAttachments(attachSpecs)
	if err != nil {
		return err
	}

	client := remote.New(cfg.ServerURL, cfg.UploadTimeout)
	deletions := files.NewDeletionQueue(client.Delete, cfg.UploadTimeout)
	defer deletions.Close()

	opts := tablestate.Options{
		Files:         column.FileFuncs{UploadFn: client.Upload, DeleteFn: deletions.QueueDeletion},
		UploadTimeout: cfg.UploadTimeout,
		User:          cfg.User,
	}
	if cfg.StampLocation {
		if position == "" {
			return fmt.Errorf("--stamp-location needs --position")
		}
		provider, err := fixedPosition(position)
		if err != nil {
			return err
		}
		loc := location.NewCollector(provider, cfg.LocationInterval)
		defer loc.Close()
		opts.Location = loc
	}

	o := tablestate.New(table, client, opts)
	st, err := o.Load(ctx)
	if err != nil {
		return err
	}
	if st.Status != column.Success {
		return fmt.Errorf("table %s not found on %s", table, cfg.ServerURL)
	}
	logger := logging.ForTable(table)

	written, failed := 0, 0
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		code := strings.TrimSpace(sc.Text())
		if code == "" {
			continue
		}
		id, err := o.NewRow()
		if err != nil {
			return err
		}
		if err := o.EditInput(id, target, code); err != nil {
			return err
		}
		for _, a := range attachments {
			if err := o.CaptureFile(id, a.column, a.name, "", a.data); err != nil {
				return fmt.Errorf("attach %s: %w", a.column, err)
			}
		}

		ok, err := o.Write(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			written++
			fmt.Fprintf(out, "ok\t%s\n", code)
			continue
		}
		failed++
		cells, _ := o.Row(id)
		printErrors(out, code, o.State().Sync, id, cells)
		// неудачная строка не копится: ввод пойдёт следующей строкой
		o.Discard(id)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	logger.WithFields(log.Fields{"written": written, "failed": failed}).Info("scan finished")
	return nil
}

// printErrors печатает по строке на ошибку: ввод, колонка, дескриптор, значение ячейки.
func printErrors(out io.Writer, code string, st syncerr.SyncUiState, rowID int64, cells []column.UiState) {
	values := make(map[string]string, len(cells))
	for _, c := range cells {
		values[c.Name] = column.Display(c.Value)
	}
	for col, ds := range st.SynchronisationErrors[rowID] {
		for _, d := range ds {
			fmt.Fprintf(out, "fail\t%s\t%s\t%s\t%s\n", code, col, d, values[col])
		}
	}
}
