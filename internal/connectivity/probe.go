// Package connectivity decides whether the authority is reachable. It only
// observes; what to do about a change is up to the mode controller.
package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/posync/internal/authority"
	"github.com/roach88/posync/internal/pos"
)

// Probe performs one reachability check.
type Probe interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// FileProbe checks that the directory holding a shared database file is
// mounted and writable, by creating and removing a marker file in it.
type FileProbe struct {
	// Path is the database file; its directory is probed.
	Path string
}

func (p FileProbe) Probe(ctx context.Context) error {
	dir := filepath.Dir(p.Path)
	done := make(chan error, 1)
	go func() { done <- probeDir(dir) }()

	// Stat on a dead network mount can hang well past any deadline.
	select {
	case err := <-done:
		return pos.E(pos.KindConnectivity, "probe "+dir, err)
	case <-ctx.Done():
		return pos.E(pos.KindConnectivity, "probe "+dir, ctx.Err())
	}
}

func probeDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".posync-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_, werr := f.Write([]byte{0})
	cerr := f.Close()
	rerr := os.Remove(name)
	switch {
	case werr != nil:
		return werr
	case cerr != nil:
		return cerr
	}
	return rerr
}

// HealthProbe asks an authority for its health, usually GET /health on an
// authority.Client.
type HealthProbe struct {
	Authority authority.Authority
}

func (p HealthProbe) Probe(ctx context.Context) error {
	if err := p.Authority.Health(ctx); err != nil {
		if pos.KindOf(err) == "" {
			return pos.E(pos.KindConnectivity, "health", err)
		}
		return err
	}
	return nil
}
