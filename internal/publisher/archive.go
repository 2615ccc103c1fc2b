package publisher

import (
	"context"

	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/store"
)

// SeriesSaver persists completed series. *repository.SeriesRepository
// satisfies it.
type SeriesSaver interface {
	Save(ctx context.Context, series *store.Series) error
}

// ArchiveHandler writes completed series to the archive. Refinements of an
// already completed series are written again so late scores land too.
type ArchiveHandler struct {
	saver SeriesSaver
}

// NewArchiveHandler creates the archive sink.
func NewArchiveHandler(saver SeriesSaver) *ArchiveHandler {
	return &ArchiveHandler{saver: saver}
}

func (h *ArchiveHandler) Name() string {
	return "archive"
}

// Handle saves ev.Series when the event leaves it completed.
func (h *ArchiveHandler) Handle(ctx context.Context, ev reconciliation.Event) error {
	if ev.Series == nil || !ev.Series.Completed {
		return nil
	}
	return h.saver.Save(ctx, ev.Series)
}
