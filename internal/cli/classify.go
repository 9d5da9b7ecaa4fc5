package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/classifier"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type classifyOptions struct {
	jsonOutput bool
	quiet      bool
}

func newClassifyCmd(a *app) *cobra.Command {
	var opts classifyOptions
	cmd := &cobra.Command{
		Use:   "classify <file|dir>...",
		Short: "Classify images offline and print the top-5 classes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectImages(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
			}

			p, err := a.loadPipeline()
			if err != nil {
				return err
			}
			defer func() {
				if err := p.Close(); err != nil {
					a.logger.Warn("failed to release model", zap.Error(err))
				}
			}()

			svc := classifier.New(p.client, p.labels, a.logger, classifier.Options{
				Backend:   p.graph.Info().Backend,
				ModelID:   p.modelID,
				MaxPixels: a.cfg.MaxImagePixels,
			})
			return runClassify(cmd.Context(), svc, files, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print one JSON object per image")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

type fileClassifier interface {
	Classify(ctx context.Context, image []byte) (*classifier.Classification, error)
}

type fileResult struct {
	File string                     `json:"file"`
	Data *classifier.Classification `json:"classification,omitempty"`
	Err  string                     `json:"error,omitempty"`
}

// runClassify processes every file and keeps going past failures. The error
// reports how many files failed.
func runClassify(ctx context.Context, svc fileClassifier, files []string, out, errOut io.Writer, opts classifyOptions) error {
	var bar *progressbar.ProgressBar
	if len(files) > 1 && !opts.quiet {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("classifying"),
			progressbar.OptionSetWriter(errOut),
			progressbar.OptionShowCount(),
		)
	}

	encoder := json.NewEncoder(out)
	failed := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := classifyFile(ctx, svc, file)
		if res.Err != "" {
			failed++
		}

		if opts.jsonOutput {
			if err := encoder.Encode(res); err != nil {
				return err
			}
		} else if res.Err != "" {
			fmt.Fprintf(errOut, "%s: %s\n", file, res.Err)
		} else {
			fmt.Fprintf(out, "%s\n%s", file, res.Data.Text())
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(errOut)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}

func classifyFile(ctx context.Context, svc fileClassifier, file string) fileResult {
	data, err := os.ReadFile(file)
	if err != nil {
		return fileResult{File: file, Err: err.Error()}
	}
	result, err := svc.Classify(ctx, data)
	if err != nil {
		return fileResult{File: file, Err: err.Error()}
	}
	return fileResult{File: file, Data: result}
}

// collectImages expands directories into the image files they contain,
// sorted by path. Explicit file arguments are kept whatever their extension.
func collectImages(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(path))] {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
