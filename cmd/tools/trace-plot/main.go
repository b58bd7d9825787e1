// Command trace-plot renders a switchmcmc trace CSV as a PNG of one
// line per column against the iteration index, for quick visual
// convergence checks.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	inPath  = flag.String("in", "", "Trace CSV produced by switchmcmc")
	outPath = flag.String("out", "trace.png", "PNG output path")
	columns = flag.String("columns", "", "Comma-separated column names to plot (default: all)")
)

// palette cycles through distinguishable line colours.
var palette = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

func main() {
	flag.Parse()
	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := render(); err != nil {
		log.Fatalf("trace-plot: %v", err)
	}
}

func render() error {
	f, err := os.Open(*inPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse trace: %w", err)
	}
	if len(rows) < 2 {
		return fmt.Errorf("trace %s has no data rows", *inPath)
	}
	header := rows[0]
	if header[0] != "iteration" {
		return fmt.Errorf("trace %s: first column must be iteration, got %q", *inPath, header[0])
	}

	want := map[string]bool{}
	if *columns != "" {
		for _, c := range strings.Split(*columns, ",") {
			want[strings.TrimSpace(c)] = true
		}
	}

	p := plot.New()
	p.Title.Text = *inPath
	p.X.Label.Text = "iteration"
	p.Legend.Top = true

	seriesIdx := 0
	for ci := 1; ci < len(header); ci++ {
		if len(want) > 0 && !want[header[ci]] {
			continue
		}
		pts := make(plotter.XYs, 0, len(rows)-1)
		for _, row := range rows[1:] {
			it, err := strconv.ParseFloat(row[0], 64)
			if err != nil {
				return fmt.Errorf("bad iteration value %q: %w", row[0], err)
			}
			v, err := strconv.ParseFloat(row[ci], 64)
			if err != nil {
				return fmt.Errorf("bad value %q in column %s: %w", row[ci], header[ci], err)
			}
			pts = append(pts, plotter.XY{X: it, Y: v})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = palette[seriesIdx%len(palette)]
		p.Add(line)
		p.Legend.Add(header[ci], line)
		seriesIdx++
	}
	if seriesIdx == 0 {
		return fmt.Errorf("no matching columns to plot")
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, *outPath); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	log.Printf("wrote %s (%d series)", *outPath, seriesIdx)
	return nil
}
