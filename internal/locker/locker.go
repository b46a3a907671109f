// Package locker wires the slot monitor, identity store, face adapter and
// actuators into the operations exposed by the CLI and the HTTP API.
package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/kozaktomas/smart-locker/internal/config"
	"github.com/kozaktomas/smart-locker/internal/database"
	"github.com/kozaktomas/smart-locker/internal/database/postgres"
	"github.com/kozaktomas/smart-locker/internal/enroll"
	"github.com/kozaktomas/smart-locker/internal/faceapi"
	"github.com/kozaktomas/smart-locker/internal/facematch"
	"github.com/kozaktomas/smart-locker/internal/hardware"
	"github.com/kozaktomas/smart-locker/internal/logging"
	"github.com/kozaktomas/smart-locker/internal/reset"
	"github.com/kozaktomas/smart-locker/internal/slots"
)

// Service is the locker controller. It is safe for concurrent use.
type Service struct {
	cfg      *config.Config
	device   hardware.Device
	monitor  *slots.Monitor
	store    database.EmbeddingWriter
	counter  *database.Counter
	adapter  faceapi.Adapter
	engine   *facematch.Engine
	pipeline *enroll.Pipeline
	resetter *reset.Manager
	logger   *slog.Logger
	closers  []func() error
}

// Options holds the components a Service is built from.
type Options struct {
	Config  *config.Config
	Device  hardware.Device
	Store   database.EmbeddingWriter
	Adapter faceapi.Adapter
	Logger  *slog.Logger
}

// New builds a Service from already opened components.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("locker: config is required")
	}
	if opts.Device == nil || opts.Store == nil || opts.Adapter == nil {
		return nil, errors.New("locker: device, store and adapter are required")
	}
	logger := logging.OrDefault(opts.Logger)

	polarity, err := slots.ParsePolarity(cfg.Layout.Polarity)
	if err != nil {
		return nil, err
	}

	maintenance := database.NewFileLock(cfg.Storage.MaintLockFile)
	counter := database.NewCounter(cfg.Storage.CounterFile)

	return &Service{
		cfg:     cfg,
		device:  opts.Device,
		monitor: slots.NewMonitor(opts.Device, cfg.Layout.IDs(), polarity, cfg.Hardware.ReadRetries, logger),
		store:   opts.Store,
		counter: counter,
		adapter: opts.Adapter,
		engine: facematch.NewEngine(facematch.EngineOptions{
			Threshold:       cfg.Match.Threshold,
			Index:           database.NewHNSWIndex(),
			IndexMinVectors: cfg.Match.IndexMinVectors,
			IndexCandidates: cfg.Match.IndexCandidates,
			Logger:          logger,
		}),
		pipeline: enroll.New(enroll.Options{
			Detector:    opts.Adapter,
			Encoder:     opts.Adapter,
			Store:       opts.Store,
			Maintenance: maintenance,
			SlotCount:   cfg.SlotCount(),
			Concurrency: cfg.Enroll.Concurrency,
			Logger:      logger,
		}),
		resetter: reset.New(reset.Options{
			DatasetDir:  cfg.Storage.DatasetDir,
			Store:       opts.Store,
			Counter:     counter,
			SlotCount:   cfg.SlotCount(),
			Maintenance: maintenance,
			Logger:      logger,
		}),
		logger: logger,
	}, nil
}

// Open resolves the hardware mode, store backend and face backend from cfg
// and builds a Service. Environment problems fail here, not on first use.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	logger = logging.OrDefault(logger)

	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	mode, err := hardware.ParseMode(cfg.Hardware.Mode)
	if err != nil {
		return nil, err
	}
	device, err := hardware.Open(mode, cfg.Hardware.Chip, cfg.Layout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s hardware: %w", mode, err)
	}
	closers := []func() error{device.Close}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		device.Close()
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	adapter, err := faceapi.New(cfg.Embedding.Backend, cfg.Embedding.URL)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	svc, err := New(Options{Config: cfg, Device: device, Store: store, Adapter: adapter, Logger: logger})
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	svc.closers = closers

	logger.Info("locker ready",
		"hardware", mode,
		"slots", cfg.SlotCount(),
		"polarity", cfg.Layout.Polarity,
		"store", cfg.Storage.Backend,
		"face_backend", cfg.Embedding.Backend,
		"threshold", cfg.Match.Threshold,
	)
	return svc, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.EmbeddingWriter, func() error, error) {
	switch cfg.Storage.Backend {
	case "", "file":
		return database.NewFileStore(database.FileStoreOptions{
			Path:      cfg.Storage.StoreFile,
			Dir:       cfg.Storage.EmbeddingsDir,
			LockPath:  cfg.Storage.LockFile,
			SlotCount: cfg.SlotCount(),
			Dim:       cfg.Embedding.Dim,
			Logger:    logger,
		}), nil, nil
	case "postgres":
		pool, err := postgres.Open(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewSlotEmbeddingRepository(pool, cfg.SlotCount(), cfg.Embedding.Dim, logger)
		return repo, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want file or postgres)", cfg.Storage.Backend)
	}
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the hardware lines and the store connection.
func (s *Service) Close() error {
	err := closeAll(s.closers)
	s.closers = nil
	return err
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

func (s *Service) checkSlot(slotID int) error {
	if _, ok := s.cfg.Layout.Pin(slotID); !ok {
		return fmt.Errorf("%w: %d", hardware.ErrUnknownSlot, slotID)
	}
	return nil
}

// slotDir is the dataset directory of one slot.
func (s *Service) slotDir(slotID int) string {
	return filepath.Join(s.cfg.Storage.DatasetDir, strconv.Itoa(slotID))
}
