package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/andresmejia3/gatekeeper/internal/utils"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Match the face in a photo against the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runIdentify(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string) error {
	policy, err := cfg.Recognition.Policy()
	if err != nil {
		utils.ShowError("Invalid configuration", err, nil)
		return err
	}

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	w, reg, err := startEngine(ctx)
	if err != nil {
		utils.ShowError("Face engine failed to start", err, workerLogs(w))
		return err
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res, err := w.Extract(ctx, types.Image{Path: imagePath, Data: imgData})
	if err != nil {
		utils.ShowError("Face extraction failed", err, w.Cmd)
		return err
	}

	idx := policy.Primary(res.Faces)
	if idx < 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if len(res.Faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using face #%d (%s policy).\n", len(res.Faces), idx+1, policy)
	}

	face := res.Faces[idx]
	entries := reg.Entries()
	m := matcher.Match(face.Vec, entries, cfg.Recognition.Tolerance)
	if m.Identified {
		fmt.Printf("✅ Recognized: %s (distance %.4f)\n", m.Identity, m.Distance)
	} else {
		fmt.Printf("❌ Not recognized (closest distance %.4f, tolerance %.2f)\n", m.Distance, cfg.Recognition.Tolerance)
	}

	if len(entries) == 0 {
		return nil
	}

	type candidate struct {
		name string
		dist float64
	}
	cands := make([]candidate, len(entries))
	for i, e := range entries {
		cands[i] = candidate{e.Name, matcher.EuclideanDist(face.Vec, e.Vec)}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "\nIDENTITY\tDISTANCE\tMATCH")
	fmt.Fprintln(wOut, "--------\t--------\t-----")
	for _, c := range cands {
		mark := ""
		if c.dist <= cfg.Recognition.Tolerance {
			mark = "✓"
		}
		fmt.Fprintf(wOut, "%s\t%.4f\t%s\n", c.name, c.dist, mark)
	}
	wOut.Flush()

	return nil
}
