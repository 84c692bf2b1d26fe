package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/lgulliver/upturn/internal/imagestore"
	"github.com/lgulliver/upturn/pkg/auth"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/lgulliver/upturn/pkg/utils"
	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [url]",
		Short: "Download an image into the blob folder and print its reference",
		Long:  "Download an image into the blob folder and print its reference.\nWithout a URL the configured FETCH_DEFAULT_URL is fetched.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			url := a.Config.Fetcher.DefaultURL
			if len(args) == 1 {
				url = args[0]
			}

			d, err := a.Tracker.Start(cmd.Context(), url)
			if err != nil {
				return err
			}
			out, err := d.Wait(cmd.Context())
			if err != nil {
				return err
			}
			if !out.OK() {
				return out.Err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.Ref)
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Decode a stored image for display and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			width, _ := cmd.Flags().GetInt("width")
			outPath, _ := cmd.Flags().GetString("out")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			rotate := a.Config.Image.Rotate
			if cmd.Flags().Changed("rotate") {
				rotate, _ = cmd.Flags().GetBool("rotate")
			}

			res, err := a.Images.Load(cmd.Context(), types.BlobRef(args[0]), rotate, width)
			if err != nil {
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create output: %w", err)
			}
			if err := imagestore.EncodePNG(f, res.Raster); err != nil {
				f.Close()
				return fmt.Errorf("failed to write output: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}

			b := res.Raster.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %dx%d -> %dx%d (sample factor %d, rotated %t)\n",
				outPath, res.Source.Width, res.Source.Height, b.Dx(), b.Dy(), res.SampleFactor, res.Rotated)
			return nil
		},
	}

	cmd.Flags().Int("width", 0, "Target display width in pixels (0 keeps full size)")
	cmd.Flags().Bool("rotate", true, "Rotate 180 degrees (defaults to IMAGE_ROTATE)")
	cmd.Flags().StringP("out", "o", "upturn.png", "Output PNG path")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored blobs, or the download ledger with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			showHistory, _ := cmd.Flags().GetBool("history")
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			if !showHistory {
				names, err := a.Blobs.List(cmd.Context(), "")
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}

			records, err := a.History.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tSTATUS\tBLOB\tSIZE\tURL")
			for _, rec := range records {
				blob := rec.BlobRef.String()
				if rec.Status == types.DownloadFailed {
					blob = rec.FailureKind
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.FinishedAt.Format("2006-01-02 15:04:05"), rec.Status, blob, utils.FormatBytes(rec.Bytes), rec.URL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Bool("history", false, "Show the download ledger instead of blob names")
	cmd.Flags().Int("limit", 20, "Maximum ledger rows")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the download ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			stats, err := a.History.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "succeeded: %d\nfailed: %d\nstored: %s\n",
				stats.Succeeded, stats.Failed, utils.FormatBytes(stats.TotalBytes))
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key for SERVER_API_KEYS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ref>",
		Short: "Check a stored blob against the checksum recorded when it was downloaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			ref := types.BlobRef(args[0])
			rec, err := a.History.FindByBlob(cmd.Context(), ref)
			if err != nil {
				return err
			}

			r, err := a.Blobs.Retrieve(cmd.Context(), ref.String())
			if err != nil {
				return err
			}
			defer r.Close()

			sum, err := utils.ComputeSHA256FromReader(r)
			if err != nil {
				return fmt.Errorf("failed to read blob: %w", err)
			}
			if sum != rec.SHA256 {
				return fmt.Errorf("checksum mismatch for %s: recorded %s, stored %s", ref, rec.SHA256, sum)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", ref, sum)
			return nil
		},
	}
}
