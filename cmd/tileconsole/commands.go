package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vbonduro/tileconsole/internal/backend"
	"github.com/vbonduro/tileconsole/internal/capture"
	"github.com/vbonduro/tileconsole/internal/variant"
	"github.com/vbonduro/tileconsole/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		server := web.NewServer(a.service, a.logger)
		if err := server.ListenAndServe(cmd.Context(), a.cfg.ListenAddr); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import tiles",
}

var importSheetCmd = &cobra.Command{
	Use:   "sheet <file>",
	Short: "Import tiles described by a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.service.ImportSpreadsheet(cmd.Context(), backend.Upload{
			FileName: filepath.Base(args[0]),
			Data:     data,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var importFolderCmd = &cobra.Command{
	Use:   "folder <dir>",
	Short: "Resize a folder of tile images and extract their faces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := readImages(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.service.ImportFolder(cmd.Context(), files)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var variantsCmd = &cobra.Command{
	Use:   "variants <sku-code>",
	Short: "Show a tile's images and stream its face variants as they are found",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		tile, images, err := a.service.FindTile(cmd.Context(), args[0])
		if err != nil {
			return errors.New(backend.Describe(err))
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n  big:   %s\n  thumb: %s\n  faces: %s\n",
			tile.SkuName, tile.SkuCode, images.Big, images.Thumb, images.Faces)

		view := variant.NewView(a.probe)
		view.OnChange = func(found []string) {
			name := found[len(found)-1]
			fmt.Fprintf(out, "  variant %d: %s\n", len(found), a.service.VariantURL(name))
		}
		view.Mount(cmd.Context(), tile.SkuCode)
		defer view.Unmount()
		if err := view.Wait(cmd.Context()); err != nil {
			return err
		}
		if len(view.Variants()) == 0 {
			fmt.Fprintln(out, "  no variants")
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the tile list workbook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		stored, err := a.service.ExportTiles(cmd.Context())
		if err != nil {
			return errors.New(backend.Describe(err))
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = stored.FileName
		}

		reader, _, err := a.service.OpenArtifact(cmd.Context(), stored.Key)
		if err != nil {
			return err
		}
		defer reader.Close()
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		if _, err := io.Copy(f, reader); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent ingestion and import runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sku, _ := cmd.Flags().GetString("sku")
		limit, _ := cmd.Flags().GetInt("limit")
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		history, err := a.service.ListRuns(cmd.Context(), sku, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), history)
	},
}

func init() {
	importCmd.AddCommand(importSheetCmd)
	importCmd.AddCommand(importFolderCmd)

	exportCmd.Flags().StringP("output", "o", "", "File to write the workbook to (default: the export's name)")

	runsCmd.Flags().String("sku", "", "Only show ingestion runs of this SKU code")
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs of each kind")
}

// readImages loads the image files directly inside dir. Other files are
// skipped.
func readImages(dir string) ([]backend.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []backend.Upload
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		mime, ok := capture.DetectImage(data)
		if !ok {
			continue
		}
		files = append(files, backend.Upload{FileName: e.Name(), ContentType: mime, Data: data})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	return files, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
