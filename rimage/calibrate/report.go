package calibrate

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// String prints the camera model followed by a table of the per image results.
func (o *Outcome) String() string {
	var sb strings.Builder
	k := o.CameraMatrix
	fmt.Fprintf(&sb, "fx=%.3f fy=%.3f cx=%.3f cy=%.3f\n", k[0][0], k[1][1], k[0][2], k[1][2])
	d := o.Distortion
	fmt.Fprintf(&sb, "k1=%.6f k2=%.6f p1=%.6f p2=%.6f k3=%.6f\n", d[0], d[1], d[2], d[3], d[4])
	fmt.Fprintf(&sb, "rms=%.4fpx images=%d/%d\n", o.RMSError, o.ProcessedCount, o.TotalCount)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Image", "Board", "RMS (px)", "Reason"})
	for _, img := range o.Images {
		board, rms := "no", ""
		if img.Detected {
			board, rms = "yes", fmt.Sprintf("%.4f", img.ReprojectionError)
		}
		t.AppendRow(table.Row{img.Index, img.Name, board, rms, string(img.Reason)})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("p95 %.4f", o.Residuals.P95), fmt.Sprintf("max %.4f", o.Residuals.Max)})
	sb.WriteString(t.Render())
	return sb.String()
}
