package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thesyncim/velvet"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseJobFile_Defaults(t *testing.T) {
	f, err := parseJobFile([]byte(`
concurrency: 2
jobs:
  - output: a.mp4
  - output: b.mov
    format: mov
    engine: builtin
    frames: 12
    metadata:
      title: two cameras
    streams:
      - name: left
        codec: rawvideo
        size: 320X240
        fps: 25
        pattern: box
        params:
          lookahead: "2"
      - pattern: checker
        metadata:
          camera: right
`))
	require.NoError(t, err)
	require.Equal(t, 2, f.Concurrency)
	require.Len(t, f.Jobs, 2)

	a := f.Jobs[0]
	require.Equal(t, defaultFormat, a.Format)
	require.Equal(t, defaultFrames, a.Frames)
	require.Equal(t, []streamJob{{
		Name:    "video",
		Codec:   defaultCodec,
		Size:    "640x480",
		FPS:     velvet.DefaultFramerate,
		Bitrate: velvet.DefaultBitrate,
		Pattern: defaultPattern,
	}}, a.Streams)

	b := f.Jobs[1]
	require.Equal(t, "left", b.Streams[0].Name)
	require.Equal(t, "video1", b.Streams[1].Name)
	require.Equal(t, defaultCodec, b.Streams[1].Codec)

	cfg, err := b.muxerConfig()
	require.NoError(t, err)
	require.Equal(t, "mov", cfg.Format)
	require.Equal(t, velvet.EngineBuiltin, cfg.EngineID)
	require.Equal(t, "two cameras", cfg.Metadata["title"])
	require.Len(t, cfg.Videos, 2)
	left := cfg.Videos[0].Encoder
	require.Equal(t, 320, left.Width)
	require.Equal(t, 240, left.Height)
	require.Equal(t, 25, left.Framerate)
	require.Equal(t, "2", left.Params["lookahead"])
	require.Equal(t, "right", cfg.Videos[1].Encoder.Metadata["camera"])
}

func TestParseJobFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no jobs", "jobs: []"},
		{"unknown field", "jobs:\n  - output: a.mp4\n    codecs: mjpeg\n"},
		{"missing output", "jobs:\n  - format: mp4\n"},
		{"bad size", "jobs:\n  - output: a.mp4\n    streams:\n      - size: big\n"},
		{"bad pattern", "jobs:\n  - output: a.mp4\n    streams:\n      - pattern: plasma\n"},
		{"not yaml", "jobs: [output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseJobFile([]byte(tt.doc))
			require.Error(t, err)
		})
	}

	_, err := parseJobFile([]byte("jobs:\n  - format: mp4\n"))
	require.ErrorIs(t, err, velvet.ErrInvalidConfig)

	_, err = (&encodeJob{Engine: "gstreamer"}).muxerConfig()
	require.ErrorIs(t, err, velvet.ErrInvalidConfig)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		w, h int
		ok   bool
	}{
		{"640x480", 640, 480, true},
		{"1920X1080", 1920, 1080, true},
		{"640", 0, 0, false},
		{"0x480", 0, 0, false},
		{"-1x2", 0, 0, false},
		{"axb", 0, 0, false},
	}
	for _, tt := range tests {
		w, h, err := parseSize(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("parseSize(%q) error = %v", tt.in, err)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
		}
	}
}

func TestRunJobs_ProbeExtract(t *testing.T) {
	dir := t.TempDir()
	doc := `
jobs:
  - output: ` + filepath.Join(dir, "one.mp4") + `
    engine: builtin
    frames: 6
    metadata:
      title: velvet test
    streams:
      - name: front
        size: 64x48
        animated: true
        metadata:
          position: front
      - name: back
        codec: rawvideo
        size: 32x16
        pattern: gradient
  - output: ` + filepath.Join(dir, "two.mov") + `
    format: mov
    engine: builtin
    frames: 3
    streams:
      - size: 16x16
`
	f, err := parseJobFile([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, runJobs(context.Background(), f.Jobs, 2, quietLogger()))

	var out bytes.Buffer
	require.NoError(t, probe(&out, filepath.Join(dir, "one.mp4"), "builtin"))
	text := out.String()
	for _, want := range []string{
		"engine builtin", "title: velvet test",
		"front", "back", "mjpeg", "rawvideo", "64x48", "32x16", "30.000", "200ms",
		"position: front",
	} {
		require.Contains(t, text, want)
	}

	frames := filepath.Join(dir, "frames")
	n, err := extract(filepath.Join(dir, "one.mp4"), extractOptions{dir: frames, every: 2}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	entries, err := os.ReadDir(frames)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "front-000000.png", entries[0].Name())

	n, err = extract(filepath.Join(dir, "one.mp4"), extractOptions{dir: frames, stream: "back", limit: 2}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = extract(filepath.Join(dir, "two.mov"), extractOptions{dir: frames, stream: "side"}, quietLogger())
	require.ErrorIs(t, err, velvet.ErrStreamNotFound)
}

func TestRunJobs_FailureNamesJob(t *testing.T) {
	dir := t.TempDir()
	jobs := []encodeJob{{
		Output:  filepath.Join(dir, "bad.mp4"),
		Engine:  "builtin",
		Streams: []streamJob{{Codec: "libx264"}},
	}}
	require.NoError(t, jobs[0].applyDefaults())

	err := runJobs(context.Background(), jobs, 1, quietLogger())
	require.ErrorIs(t, err, velvet.ErrCodecNotSupported)
	require.Contains(t, err.Error(), "job 0")
	_, statErr := os.Stat(filepath.Join(dir, "bad.mp4"))
	require.True(t, os.IsNotExist(statErr), "failed outputs are removed")
}

func TestRunJobs_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := []encodeJob{{Output: filepath.Join(t.TempDir(), "x.mp4"), Engine: "builtin"}}
	require.NoError(t, jobs[0].applyDefaults())
	require.ErrorIs(t, runJobs(ctx, jobs, 1, quietLogger()), context.Canceled)
}
