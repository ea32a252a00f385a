package cmd

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dendrascience/asarfs/asarfs"
	"github.com/dendrascience/asarfs/internal/config"
)

type ctxKey int

const (
	configKey ctxKey = iota
	baseFsKey
)

func loadConfig(path string, debug bool) (config.Config, error) {
	cm, err := config.NewConfigManager(path)
	if err != nil {
		return config.Config{}, err
	}
	if debug {
		if err := cm.Set("log.level", "debug"); err != nil {
			return config.Config{}, err
		}
	}
	return cm.GetConfig()
}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

func configFrom(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(configKey).(config.Config)
	return cfg
}

// WithBaseFs makes commands run against fsys instead of the host filesystem.
func WithBaseFs(ctx context.Context, fsys afero.Fs) context.Context {
	return context.WithValue(ctx, baseFsKey, fsys)
}

func baseFs(ctx context.Context) afero.Fs {
	if fsys, ok := ctx.Value(baseFsKey).(afero.Fs); ok {
		return fsys
	}
	return asarfs.NewOsFs()
}

// openOverlay installs the overlay described by the command's configuration.
// adjust, when set, edits the options before the context is built.
func openOverlay(ctx context.Context, adjust func(*asarfs.Options)) *asarfs.FS {
	base := baseFs(ctx)
	opts := configFrom(ctx).Options(base)
	if adjust != nil {
		adjust(&opts)
	}
	return asarfs.Install(base, asarfs.NewContext(base, opts))
}

func closeOverlay(vfs *asarfs.FS) error {
	err := errors.Join(vfs.Close(), vfs.Context().Shutdown())
	if err != nil {
		log.Warn().Err(err).Msg("closing overlay")
	}
	return err
}

// fatalOf returns the integrity failure reported by vfs, if any.
func fatalOf(vfs *asarfs.FS) error {
	select {
	case f := <-vfs.Context().Fatal():
		return f
	default:
		return nil
	}
}
