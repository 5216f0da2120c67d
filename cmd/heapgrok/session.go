// ABOUTME: Loads configuration, catalog and image for a command invocation
// ABOUTME: Builds the resolver and decoder every subcommand shares

package main

import (
	"go.uber.org/zap"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/heapdump"
	"github.com/prateek/heapgrok/internal/config"
	"github.com/prateek/heapgrok/memimage"
	"github.com/prateek/heapgrok/space"
)

type session struct {
	cfg      *config.Config
	log      *zap.Logger
	cat      *catalog.Catalog
	img      *memimage.Image
	resolver *space.Resolver
	dec      *decoder.Decoder
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	if flags.catalog != "" {
		cfg.Catalog = flags.catalog
	}
	if flags.image != "" {
		cfg.Image.Path = flags.image
	}
	if flags.level != "" {
		cfg.Log.Level = flags.level
	}
	return cfg, nil
}

func openSession(flags *globalFlags) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	img, err := openImage(cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("session ready",
		zap.String("catalog", cfg.Catalog),
		zap.Int("instance_types", cat.NumInstanceTypes()),
		zap.Int("known_maps", cat.NumKnownMaps()),
		zap.String("image", cfg.Image.Path),
		zap.Int("segments", len(img.Segments())),
	)

	resolver := space.NewResolver(cat, cfg.ResolverOptions()...)
	opts := append(cfg.DecoderOptions(img.WordSize(), log), decoder.WithResolver(resolver))
	return &session{
		cfg:      cfg,
		log:      log,
		cat:      cat,
		img:      img,
		resolver: resolver,
		dec:      decoder.New(cat, img, opts...),
	}, nil
}

func openImage(cfg *config.Config) (*memimage.Image, error) {
	if cfg.Image.Format == "raw" {
		return memimage.OpenRaw(cfg.Image.Path, memimage.Address(cfg.Image.Base), cfg.RawParams())
	}
	return heapdump.OpenFile(cfg.Image.Path)
}

func (s *session) Close() error {
	// stderr sync fails on terminals
	_ = s.log.Sync()
	return s.img.Close()
}
