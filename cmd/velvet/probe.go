package main

import (
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/thesyncim/velvet"
)

func probeCmd(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	engine := fs.String("engine", "", "engine: builtin or ffmpeg (default: best available)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: probe takes one file", velvet.ErrInvalidConfig)
	}
	return probe(os.Stdout, fs.Arg(0), *engine)
}

func openDemuxer(path, engine string) (*velvet.Demuxer, *os.File, error) {
	id, err := velvet.ParseEngineID(engine)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	cfg := velvet.DefaultDemuxerConfig()
	cfg.EngineID = id
	d, err := velvet.NewDemuxer(f, cfg)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, f, nil
}

func probe(w io.Writer, path, engine string) error {
	d, f, err := openDemuxer(path, engine)
	if err != nil {
		return err
	}
	defer f.Close()
	defer d.Close()

	fmt.Fprintf(w, "%s (engine %s)\n", path, d.Engine().Name())
	printMetadata(w, "  ", d.Metadata())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  INDEX\tNAME\tTYPE\tCODEC\tSIZE\tFPS\tDURATION\tFRAMES\tTIMEBASE")
	for _, s := range d.Streams() {
		name, size, fps, dur, frames := "-", "-", "-", "-", "-"
		if v := d.Video(s.Name); v != nil && v.Index() == s.Index {
			p := v.Properties()
			name = v.Name()
			size = fmt.Sprintf("%dx%d", p.Width, p.Height)
			fps = fmt.Sprintf("%.3f", p.Framerate)
			dur = p.Duration.String()
			frames = fmt.Sprint(p.Frames)
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Index, name, s.Type, s.Codec, size, fps, dur, frames, s.TimeBase)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, v := range d.Videos() {
		if md := v.Metadata(); len(md) > 0 {
			fmt.Fprintf(w, "  stream %s:\n", v.Name())
			printMetadata(w, "    ", md)
		}
	}
	return nil
}

func printMetadata(w io.Writer, indent string, md map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(md)) {
		fmt.Fprintf(w, "%s%s: %s\n", indent, k, md[k])
	}
}
