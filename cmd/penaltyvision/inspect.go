package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/penaltyvision/overlay-server/internal/posture"
	"github.com/penaltyvision/overlay-server/internal/skeleton"
)

func newInspectCommand() *cobra.Command {
	var path string
	var frames bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarise a posture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := loadPostures(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), statsTable(seq.Stats()))
			if frames {
				fmt.Fprintln(cmd.OutOrStdout(), framesTable(seq))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "postures", "", "Posture JSON file")
	cmd.Flags().BoolVar(&frames, "frames", false, "List every frame with its drawable keypoints")
	_ = cmd.MarkFlagRequired("postures")

	return cmd
}

func statsTable(st posture.Stats) string {
	rows := [][]string{
		{"Frames", strconv.Itoa(st.Frames)},
		{"First frame", strconv.Itoa(st.FirstFrame)},
		{"Last frame", strconv.Itoa(st.LastFrame)},
		{"Covered", fmt.Sprintf("%.2fs", st.CoveredSeconds)},
		{"Mean drawable keypoints", fmt.Sprintf("%.1f", st.MeanValidKeypoints)},
	}
	return renderTable([]string{"Stat", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func framesTable(seq *posture.Sequence) string {
	frames := seq.Frames()
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })

	rows := make([][]string, 0, len(frames))
	for _, f := range frames {
		valid := f.Valid()
		names := make([]string, 0, len(valid))
		for _, joint := range skeleton.Joints {
			if _, ok := valid[joint]; ok {
				names = append(names, string(joint))
			}
		}
		rows = append(rows, []string{
			strconv.Itoa(f.Index),
			fmt.Sprintf("%.3f", float64(f.Index)/posture.FrameRate),
			fmt.Sprintf("%d/%d", len(valid), len(f.Keypoints)),
			strings.Join(names, ", "),
		})
	}
	return renderTable(
		[]string{"Frame", "Time (s)", "Drawable", "Joints"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
	)
}
