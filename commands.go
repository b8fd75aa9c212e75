package assets

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/c2h5oh/datasize"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// NewCommand creates a Cobra command tree for asset provisioning.
// The returned command can be used as a root command or attached to a
// parent CLI.
//
// Commands provided:
//   - pull [--kind k]... [--manifest file] [--no-baseline] [--concurrency n]
//   - fetch <source> <kind>/<file> [--size s] [--scope s]
//   - list [--kind k]...
//   - paths [--out file]
//   - config
//
// Global flags: --config, --json, --quiet, --verbose
func NewCommand(opts ...Option) *cobra.Command {
	var (
		cfgFile    string
		jsonOutput bool
		quiet      bool
		verbose    bool
	)

	// Populated in PersistentPreRunE.
	var (
		cfg    Config
		deploy DeployConfig
		prov   Provisioner
		creds  Credentials
	)

	cmd := &cobra.Command{
		Use:   "comfy-assets",
		Short: "Provision model assets into a persistent store",
		Long:  "Download large pretrained model files into a persistent, restart-surviving store, idempotently and with atomic publication.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			var err error
			cfg, deploy, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
				Level(level).With().Timestamp().Logger()

			prov, err = NewProvisioner(cfg, append([]Option{WithLogger(log)}, opts...)...)
			if err != nil {
				return fmt.Errorf("failed to initialize provisioner: %w", err)
			}
			creds = CredentialsFromEnv()
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(pullCmd(&prov, &creds, &jsonOutput, &quiet))
	cmd.AddCommand(fetchCmd(&prov, &creds, &jsonOutput, &quiet))
	cmd.AddCommand(listCmd(&prov, &jsonOutput))
	cmd.AddCommand(pathsCmd(&deploy, &quiet))
	cmd.AddCommand(configCmd(&cfg, &deploy, &jsonOutput))

	return cmd
}

func pullCmd(prov *Provisioner, creds *Credentials, jsonOutput, quiet *bool) *cobra.Command {
	var (
		kinds        []string
		manifestPath string
		noBaseline   bool
		concurrency  int
	)

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Provision the manifest into the store",
		Long:  "Ensure every manifest entry is present in the store, downloading what is missing. Re-running is safe: complete entries are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var manifest Manifest
			if !noBaseline {
				manifest = BaselineManifest()
			}
			if manifestPath != "" {
				extra, err := LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				manifest = append(manifest, extra...)
			}

			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			manifest = manifest.FilterKinds(filter...)

			var opts []ProvisionOption
			if concurrency > 0 {
				opts = append(opts, WithConcurrency(concurrency))
			}
			return runProvision(cmd, *prov, manifest, *creds, opts, *jsonOutput, *quiet)
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only provision these asset kinds")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Additional manifest file (YAML)")
	cmd.Flags().BoolVar(&noBaseline, "no-baseline", false, "Skip the built-in baseline asset set")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent downloads (default 3)")
	return cmd
}

func fetchCmd(prov *Provisioner, creds *Credentials, jsonOutput, quiet *bool) *cobra.Command {
	var (
		size  string
		scope string
	)

	cmd := &cobra.Command{
		Use:   "fetch <source> <kind>/<file>",
		Short: "Provision a single ad-hoc asset",
		Long:  "Download one file into the store. The source may be a URL, an owner/repo/file Hugging Face reference, or civitai:<id>.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, name, err := ParseDest(args[1])
			if err != nil {
				return err
			}

			entry := ManifestEntry{
				Source: args[0],
				Kind:   kind,
				Name:   name,
				Scope:  CredentialScope(scope),
			}
			if size != "" {
				var sz datasize.ByteSize
				if err := sz.UnmarshalText([]byte(size)); err != nil {
					return fmt.Errorf("invalid --size %q: %w", size, err)
				}
				entry.ExpectedSize = int64(sz.Bytes())
			}

			return runProvision(cmd, *prov, Manifest{entry}, *creds, nil, *jsonOutput, *quiet)
		},
	}

	cmd.Flags().StringVar(&size, "size", "", "Expected size, e.g. 335MB or 18GB")
	cmd.Flags().StringVar(&scope, "scope", "", "Credential scope (huggingface, civitai)")
	return cmd
}

func listCmd(prov *Provisioner, jsonOutput *bool) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseKinds(kinds)
			if err != nil {
				return err
			}

			files, err := (*prov).Installed(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			return outputStoreFiles(cmd.OutOrStdout(), files, *jsonOutput)
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "Only list these asset kinds")
	return cmd
}

func pathsCmd(deploy *DeployConfig, quiet *bool) *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Render the GUI's model search paths file",
		Long:  "Generate extra_model_paths.yaml pointing the GUI at both its bundled model directories and the persistent store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := RenderModelPaths(deploy.ComfyUIDir, deploy.VolumeMount)
			if err != nil {
				return err
			}
			if err := ValidateModelPaths(data); err != nil {
				return err
			}

			if outFile == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}
			if !*quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "extra_model_paths.yaml", "Output file, or - for stdout")
	return cmd
}

func configCmd(cfg *Config, deploy *DeployConfig, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			creds := CredentialsFromEnv()

			if *jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"store_dir":         cfg.StoreDir,
					"huggingface_url":   cfg.HuggingFaceURL,
					"civitai_url":       cfg.CivitaiURL,
					"concurrency":       cfg.Concurrency,
					"deploy":            deploy,
					"hf_token_set":      hasToken(creds, ScopeHuggingFace),
					"civitai_token_set": hasToken(creds, ScopeCivitai),
				})
			}

			fmt.Fprintf(w, "Store dir:        %s\n", cfg.StoreDir)
			fmt.Fprintf(w, "Hugging Face URL: %s\n", cfg.HuggingFaceURL)
			fmt.Fprintf(w, "Civitai URL:      %s\n", cfg.CivitaiURL)
			fmt.Fprintf(w, "Concurrency:      %d\n", cfg.Concurrency)
			fmt.Fprintf(w, "HF token:         %s\n", tokenStatus(creds, ScopeHuggingFace))
			fmt.Fprintf(w, "Civitai token:    %s\n", tokenStatus(creds, ScopeCivitai))
			fmt.Fprintf(w, "GPU type:         %s\n", deploy.GPUType)
			fmt.Fprintf(w, "Volume:           %s -> %s\n", deploy.VolumeName, deploy.VolumeMount)
			fmt.Fprintf(w, "ComfyUI dir:      %s\n", deploy.ComfyUIDir)
			fmt.Fprintf(w, "Web:              %s:%d\n", deploy.WebHost, deploy.WebPort)
			return nil
		},
	}
}

// runProvision executes a provisioning run with progress display and
// prints the per-entry outcomes. The returned error is non-nil iff any
// entry failed, so the process exits non-zero on partial failure.
func runProvision(cmd *cobra.Command, prov Provisioner, manifest Manifest, creds Credentials, opts []ProvisionOption, jsonOutput, quiet bool) error {
	if !quiet && !jsonOutput {
		bar := newDownloadBar(cmd.OutOrStdout(), manifest)
		opts = append(opts, WithProgress(func(dest string, delta int64) {
			bar.Add64(delta)
		}))
		defer func() {
			bar.Finish()
			fmt.Fprintln(cmd.OutOrStdout())
		}()
	}

	results, err := prov.Provision(cmd.Context(), manifest, creds, opts...)
	if err != nil {
		return err
	}

	if err := outputResults(cmd.OutOrStdout(), results, jsonOutput, quiet); err != nil {
		return err
	}
	return results.Err()
}

// newDownloadBar builds a byte progress bar for a run. The total is the
// sum of expected sizes when every entry declares one, otherwise the bar
// is indeterminate.
func newDownloadBar(w io.Writer, manifest Manifest) *progressbar.ProgressBar {
	total := int64(0)
	for _, e := range manifest {
		if e.ExpectedSize == 0 {
			total = -1
			break
		}
		total += e.ExpectedSize
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
}

func parseKinds(names []string) ([]AssetKind, error) {
	var kinds []AssetKind
	for _, name := range names {
		k, err := ParseAssetKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func hasToken(creds Credentials, scope CredentialScope) bool {
	_, ok := creds[scope]
	return ok
}

func tokenStatus(creds Credentials, scope CredentialScope) string {
	if hasToken(creds, scope) {
		return "set"
	}
	return "not set"
}

// Output helpers

// resultView is the JSON form of a FetchResult with the error flattened.
type resultView struct {
	Dest         string  `json:"dest"`
	Outcome      Outcome `json:"outcome"`
	BytesWritten int64   `json:"bytes_written"`
	Error        string  `json:"error,omitempty"`
}

func outputResults(w io.Writer, results Results, asJSON, quiet bool) error {
	if asJSON {
		views := make([]resultView, len(results))
		for i, r := range results {
			views[i] = resultView{
				Dest:         r.Dest,
				Outcome:      r.Outcome,
				BytesWritten: r.BytesWritten,
			}
			if r.Err != nil {
				views[i].Error = r.Err.Error()
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if !quiet {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DEST\tOUTCOME\tBYTES\tERROR")
		for _, r := range results {
			errMsg := ""
			if r.Err != nil {
				errMsg = r.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				r.Dest, r.Outcome, formatSize(r.BytesWritten), errMsg)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "%d downloaded, %d skipped, %d failed\n",
		results.Downloaded(), results.Skipped(), results.Failed())
	return nil
}

func outputStoreFiles(w io.Writer, files []StoreFile, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	}

	if len(files) == 0 {
		fmt.Fprintln(w, "Store is empty")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSIZE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\n",
			f.Dest, formatSize(f.Size), f.ModTime.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func formatSize(bytes int64) string {
	if bytes < 0 {
		return "-"
	}
	return datasize.ByteSize(bytes).HumanReadable()
}
