//go:build !(darwin || linux) || noffmpeg

package velvet

import "fmt"

func init() {
	registerEngine(EngineFFmpeg, func() (Engine, error) {
		return nil, fmt.Errorf("%w: ffmpeg engine not built for this platform", ErrEngineUnavailable)
	})
}
