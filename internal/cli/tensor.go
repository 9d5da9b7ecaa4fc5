package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/imagenet-api/internal/model"
	"github.com/Brownie44l1/imagenet-api/internal/preprocess"
	"github.com/Brownie44l1/imagenet-api/internal/tensorio"
)

func newTensorCmd(a *app) *cobra.Command {
	var out string
	var verify bool
	cmd := &cobra.Command{
		Use:   "tensor <image>",
		Short: "Write the preprocessed input tensor of an image as safetensors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + ".safetensors"
			}
			if err := writeTensor(args[0], out, verify, a.cfg.MaxImagePixels); err != nil {
				return err
			}
			a.logger.Info("tensor written", zap.String("image", args[0]), zap.String("out", out))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default <image>.safetensors)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Read the file back and compare it with the tensor")
	return cmd
}

func writeTensor(imagePath, outPath string, verify bool, maxPixels int) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return err
	}
	tensor, err := preprocess.ImageToTensorLimited(data, model.InputWidth, model.InputHeight, maxPixels)
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := exportTensor(f, tensor, filepath.Base(imagePath)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if !verify {
		return nil
	}
	written, err := os.ReadFile(outPath)
	if err != nil {
		return err
	}
	back, err := tensorio.Import(written)
	if err != nil {
		return err
	}
	if !bytes.Equal(back, tensor) {
		return fmt.Errorf("%s does not round-trip", outPath)
	}
	return nil
}

func exportTensor(w io.Writer, tensor preprocess.TensorBuffer, source string) error {
	meta := map[string]string{
		"source": source,
		"layout": "NCHW",
		"mean":   fmt.Sprintf("%v", preprocess.Mean),
		"std":    fmt.Sprintf("%v", preprocess.Std),
	}
	return tensorio.Export(w, tensor, meta)
}
