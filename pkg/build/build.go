// Package build turns parsed programs into runnable images, applying the
// project manifest's compile policy and reusing the compile cache.
package build

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/peridot-lang/peridot/manifest"
	"github.com/peridot-lang/peridot/pkg/ast"
	"github.com/peridot-lang/peridot/pkg/bytecode"
	"github.com/peridot-lang/peridot/pkg/image"
)

var log = commonlog.GetLogger("peridot.build")

// Compile lowers a parsed program into a verified image. When the manifest
// names a cache, the source digest is looked up first and a hit skips
// compilation; a fresh build is stored back. A nil manifest compiles with
// default options and no cache. Cache failures degrade to a plain compile;
// only compile errors are returned.
func Compile(program *ast.Program, source []byte, m *manifest.Manifest) (*image.Image, error) {
	digest := image.SourceDigest(source)

	var cache *image.Cache
	if m != nil && m.CachePath() != "" {
		c, err := image.OpenCache(m.CachePath())
		if err != nil {
			log.Warningf("compile cache unavailable: %v", err)
		} else {
			cache = c
			defer cache.Close()
		}
	}
	if cache != nil {
		img, err := cache.Get(digest)
		if err == nil {
			return img, nil
		}
		if !errors.Is(err, image.ErrCacheMiss) {
			log.Warningf("compile cache lookup: %v", err)
		}
	}

	var opts bytecode.Options
	if m != nil {
		opts.TraitPolicy = m.TraitPolicy()
	}
	prog, err := bytecode.CompileWithOptions(program, opts)
	if err != nil {
		return nil, err
	}

	img := image.New(prog, source)
	if cache != nil {
		if err := cache.Put(digest, img); err != nil {
			log.Warningf("compile cache store: %v", err)
		}
	}
	return img, nil
}
