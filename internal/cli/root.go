// Package cli holds the imagenet-api commands.
package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/config"
	"github.com/Brownie44l1/imagenet-api/internal/inference"
	"github.com/Brownie44l1/imagenet-api/internal/logging"
	"github.com/Brownie44l1/imagenet-api/internal/model"
)

// Version is the application version.
const Version = "0.1.0"

// app carries state shared by the subcommands once the root pre-run has
// resolved configuration.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	modelPath  string
	labelsPath string
	backend    string
	ortLib     string
	logLevel   string
}

// pipeline is a loaded model ready to serve requests.
type pipeline struct {
	graph   model.Graph
	client  *inference.Client
	labels  model.Labels
	modelID string
}

func (p *pipeline) Close() error {
	return p.graph.Close()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "imagenet-api",
		Short:         "ImageNet image classification service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.modelPath, "model", "", "Path to the ONNX model (env MODEL_PATH)")
	flags.StringVar(&a.labelsPath, "labels", "", "Path to the class labels, .txt or .json; empty uses the built-in ImageNet table (env LABELS_PATH)")
	flags.StringVar(&a.backend, "backend", "", "Inference backend: onnxruntime or born (env MODEL_BACKEND)")
	flags.StringVar(&a.ortLib, "ort-lib", "", "Path to the onnxruntime shared library (env ORT_LIB_PATH)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")

	rootCmd.AddCommand(newServeCmd(a), newClassifyCmd(a), newTensorCmd(a))
	return rootCmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.ModelPath = a.modelPath
	}
	if flags.Changed("labels") {
		cfg.LabelsPath = a.labelsPath
	}
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if flags.Changed("ort-lib") {
		cfg.ORTLibraryPath = a.ortLib
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadPipeline reads the model and labels. The model id is the sha256 of the
// model file so cached results never cross model versions.
func (a *app) loadPipeline() (*pipeline, error) {
	data, err := os.ReadFile(a.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	labels := model.ImageNetLabels()
	if a.cfg.LabelsPath != "" {
		if labels, err = model.LoadLabels(a.cfg.LabelsPath, model.NumClasses); err != nil {
			return nil, err
		}
	}

	graph, err := model.OpenBytes(a.cfg.Backend, data, a.cfg.OpenConfig().ONNX)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", a.cfg.ModelPath, err)
	}
	info := graph.Info()
	if info.OutputShape != nil && !outputMatches(info.OutputShape) {
		closeErr := graph.Close()
		return nil, errors.Join(fmt.Errorf("model output shape %v does not hold %d classes", info.OutputShape, model.NumClasses), closeErr)
	}

	sum := sha256.Sum256(data)
	a.logger.Info("model loaded",
		zap.String("path", a.cfg.ModelPath),
		zap.String("backend", info.Backend),
		zap.Strings("inputs", info.InputNames),
		zap.Strings("outputs", info.OutputNames),
		zap.Int("labels", labels.Len()))

	return &pipeline{
		graph:   graph,
		client:  inference.NewClient(graph, a.logger),
		labels:  labels,
		modelID: hex.EncodeToString(sum[:8]),
	}, nil
}

// outputMatches accepts shapes whose known dimensions multiply to NumClasses.
// Dynamic dimensions (<= 0) are skipped.
func outputMatches(shape []int64) bool {
	n := int64(1)
	for _, d := range shape {
		if d > 0 {
			n *= d
		}
	}
	return n == model.NumClasses
}
