package main

import (
	"errors"
	"fmt"
	"image/color"
	"os"

	"github.com/spf13/cobra"

	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/posture"
)

type renderOptions struct {
	postures string
	seconds  float64
	width    int
	height   int
	out      string
	caption  bool
}

func newRenderCommand() *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the overlay for one playback time to a PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := renderOverlay(opts)
			if err != nil {
				return err
			}
			status := "matched"
			if !res.Matched {
				status = "no posture frame"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Frame %d (%s): %d keypoints, %d bones -> %s\n",
				res.FrameIndex, status, len(res.Joints), len(res.Bones), opts.out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.postures, "postures", "", "Posture JSON file")
	cmd.Flags().Float64Var(&opts.seconds, "time", 0, "Playback time in seconds")
	cmd.Flags().IntVar(&opts.width, "width", 1920, "Native video width")
	cmd.Flags().IntVar(&opts.height, "height", 1080, "Native video height")
	cmd.Flags().StringVar(&opts.out, "out", "overlay.png", "Output PNG path")
	cmd.Flags().BoolVar(&opts.caption, "caption", false, "Draw over black with a frame/time caption")
	_ = cmd.MarkFlagRequired("postures")

	return cmd
}

func loadPostures(path string) (*posture.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open postures: %w", err)
	}
	defer f.Close()
	seq, err := posture.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return seq, nil
}

func renderOverlay(opts renderOptions) (overlay.TickResult, error) {
	if opts.width <= 0 || opts.height <= 0 {
		return overlay.TickResult{}, errors.New("width and height must be positive")
	}
	if opts.seconds < 0 {
		return overlay.TickResult{}, errors.New("time must not be negative")
	}
	seq, err := loadPostures(opts.postures)
	if err != nil {
		return overlay.TickResult{}, err
	}

	canvas := overlay.NewRasterCanvas(opts.width, opts.height)
	res := overlay.RenderAt(canvas, seq, opts.seconds)

	var data []byte
	if opts.caption {
		img := overlay.Composite(canvas.Snapshot(), color.Black)
		overlay.DrawCaption(img, 8, 8, fmt.Sprintf("Frame: %d  Time: %.2fs", res.FrameIndex, res.PlaybackTime), 4)
		data, err = overlay.EncodePNG(img)
	} else {
		data, err = canvas.PNG()
	}
	if err != nil {
		return res, fmt.Errorf("encode png: %w", err)
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return res, fmt.Errorf("write %s: %w", opts.out, err)
	}
	return res, nil
}
