// Command amnet inspects and migrates acoustic-model checkpoints and
// reports length projections for the known architecture presets.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vbarna/amnet-go/checkpoint"
	"github.com/vbarna/amnet-go/label"
	"github.com/vbarna/amnet-go/model"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "amnet",
		Short:         "Acoustic model assembly, inspection and migration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(infoCmd(), projectCmd(), presetsCmd(), migrateCmd())
	return root
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <checkpoint>",
		Short: "Print checkpoint metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := checkpoint.Read(f)
			if err != nil {
				return err
			}
			params := 0
			for _, blob := range p.Params {
				params += len(blob)
			}
			fmt.Printf("id:          %s\n", p.ID)
			fmt.Printf("created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("decoder:     %s (hidden %d, vocab %d)\n", p.Decoder.Kind, p.Decoder.Hidden, p.Decoder.VocabSize)
			fmt.Printf("backbone:    width %d, depth %d, downsample %d, separable %v\n",
				p.Backbone.BaseWidth, p.Backbone.BlockDepth, p.Backbone.Downsample, p.Backbone.Separable)
			fmt.Printf("features:    phoneme=%v denoiser=%v seqdecoder=%v frozen=%v\n",
				p.HasPhonemeHead, p.HasDenoiser, p.HasSeqDecoder, p.BackboneFrozen)
			fmt.Printf("parameters:  %d\n", params)
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	var presetName string
	cmd := &cobra.Command{
		Use:   "project <length>...",
		Short: "Project input frame lengths through a preset's backbone",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pr, err := model.PresetByName(presetName)
			if err != nil {
				return err
			}
			m, err := pr.Assemble()
			if err != nil {
				return err
			}
			for _, a := range args {
				l, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("bad length %q: %w", a, err)
				}
				fmt.Printf("%d -> %d\n", l, m.ProjectLength(l))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&presetName, "preset", "separable-down8-g8", "architecture preset")
	return cmd
}

func presetsCmd() *cobra.Command {
	var dump string
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List presets, or dump one as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dump != "" {
				p, err := model.PresetByName(dump)
				if err != nil {
					return err
				}
				return model.DumpPreset(os.Stdout, p)
			}
			for _, n := range model.PresetNames() {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dump, "dump", "", "preset name to dump as YAML")
	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		phoneme   int
		denoise   bool
		unfreeze  bool
		seqDec    bool
		labelPath string
	)
	cmd := &cobra.Command{
		Use:   "migrate <in-checkpoint> <out-checkpoint>",
		Short: "Apply a capability migration to a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			m, err := checkpoint.Load(f)
			f.Close()
			if err != nil {
				return err
			}

			switch {
			case phoneme > 0:
				err = m.AddPhonemeHead(phoneme)
			case denoise:
				freeze := !unfreeze
				err = m.AddDenoiser(model.DenoiseOptions{FreezeBackbone: &freeze})
			case seqDec:
				var ab *label.Alphabet
				ab, err = readAlphabet(labelPath)
				if err == nil {
					err = m.AddSeqDecoder(ab, 0, m.Decoder.Dropout)
				}
			default:
				return fmt.Errorf("nothing to do: pass --phoneme, --denoise or --seqdecoder")
			}
			if err != nil {
				return err
			}

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer out.Close()
			if err := checkpoint.Save(out, m); err != nil {
				return err
			}
			slog.Info("checkpoint migrated", "from", args[0], "to", args[1])
			return nil
		},
	}
	cmd.Flags().IntVar(&phoneme, "phoneme", 0, "attach a phoneme head with this many classes")
	cmd.Flags().BoolVar(&denoise, "denoise", false, "attach the denoising head")
	cmd.Flags().BoolVar(&unfreeze, "unfreeze", false, "leave the backbone trainable after --denoise")
	cmd.Flags().BoolVar(&seqDec, "seqdecoder", false, "swap the recurrent head for an attention decoder")
	cmd.Flags().StringVar(&labelPath, "labels", "", "label file for --seqdecoder, one label per line")
	return cmd
}

// readAlphabet loads one label per line, preserving order.
func readAlphabet(path string) (*label.Alphabet, error) {
	if path == "" {
		return nil, fmt.Errorf("--seqdecoder needs --labels")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return label.New(labels)
}
