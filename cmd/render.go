package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentic-research/cfsync/api"
	"github.com/agentic-research/cfsync/internal/spec"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRenderCommand(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render [outdir]",
		Short: "Generate pipeline specs without contacting Codefresh",
		Long:  "Render writes one file per pipeline under outdir, named after the pipeline. Without outdir the specs are written to stdout as a YAML stream or as consecutive JSON documents.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ext, err := outputFormat(format)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(false); err != nil {
				return err
			}
			params, err := parameters(cfg)
			if err != nil {
				return err
			}

			report, err := newCli(opts.logger, nil).Generate(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var dir billy.Filesystem
			if len(args) == 1 {
				dir = osfs.New(args[0])
			}
			for i, g := range report.Specs {
				data, err := spec.Encode(g.Spec, typ)
				if err != nil {
					return fmt.Errorf("encode %s: %w", g.Spec.Name(), err)
				}
				if dir != nil {
					name := g.Spec.Name() + ext
					if err := util.WriteFile(dir, name, data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", name, err)
					}
					opts.logger.Debug("spec written", zap.String("file", filepath.Join(args[0], name)))
					continue
				}
				if typ == api.TemplateYAML && i > 0 {
					fmt.Fprintln(out, "---")
				}
				if _, err := out.Write(data); err != nil {
					return err
				}
			}
			return report.GenerateErr
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format: yaml or json")
	return cmd
}

func outputFormat(format string) (api.TemplateType, string, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return api.TemplateYAML, ".yaml", nil
	case "json":
		return api.TemplateJSON, ".json", nil
	default:
		return "", "", fmt.Errorf("unknown output format %q", format)
	}
}
