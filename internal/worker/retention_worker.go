package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/internal/repository"
)

// ArtifactSweepStorage — что сборщику мусора нужно от хранилища артефактов.
type ArtifactSweepStorage interface {
	List(ctx context.Context) ([]models.StoredObject, error)
	Remove(ctx context.Context, checksum string) error
}

// RetentionWorker периодически удаляет артефакты, на которые не ссылается
// ни одна запись журнала и чей возраст превысил окно удержания. Это
// единственный путь удаления из хранилища: координатор артефакты не
// удаляет никогда.
type RetentionWorker struct {
	ledger    repository.LedgerRepository
	storage   ArtifactSweepStorage
	pool      *WorkerPool
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRetentionWorker(
	ledger repository.LedgerRepository,
	storage ArtifactSweepStorage,
	pool *WorkerPool,
	interval, retention time.Duration,
	logger zerolog.Logger,
) *RetentionWorker {
	return &RetentionWorker{
		ledger:    ledger,
		storage:   storage,
		pool:      pool,
		interval:  interval,
		retention: retention,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (w *RetentionWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.pool.Start()

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.logger.Info().
			Dur("interval", w.interval).
			Dur("retention", w.retention).
			Msg("Retention worker started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.Sweep(ctx); err != nil {
					w.logger.Error().Err(err).Msg("Retention sweep failed")
				}
			}
		}
	}()
}

func (w *RetentionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	w.pool.Stop()
	w.logger.Info().Msg("Retention worker stopped")
}

// Sweep выполняет один проход сборки мусора.
func (w *RetentionWorker) Sweep(ctx context.Context) error {
	referenced, err := w.ledger.ReferencedChecksums(ctx)
	if err != nil {
		return err
	}

	objects, err := w.storage.List(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-w.retention)
	var removed, kept int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, obj := range objects {
		if _, ok := referenced[obj.Checksum]; ok {
			kept++
			continue
		}
		// Свежие сироты не трогаем: артефакт мог быть записан запросом,
		// который ещё не успел сделать append.
		if obj.ModifiedAt.After(cutoff) {
			kept++
			continue
		}

		obj := obj
		wg.Add(1)
		w.pool.Submit(func() {
			defer wg.Done()
			if err := w.storage.Remove(ctx, obj.Checksum); err != nil {
				w.logger.Error().Err(err).
					Str("checksum", obj.Checksum).
					Msg("Failed to remove orphaned artifact")
				return
			}
			mu.Lock()
			removed++
			mu.Unlock()
			w.logger.Debug().
				Str("checksum", obj.Checksum).
				Int64("size", obj.Size).
				Msg("Orphaned artifact removed")
		})
	}

	wg.Wait()

	w.logger.Info().
		Int64("removed", removed).
		Int64("kept", kept).
		Msg("Retention sweep completed")

	return nil
}
