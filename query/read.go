package query

import (
	"context"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"go.uber.org/zap"
)

// readAs runs the read pipeline for one coordinate type.  Dense
// arrays merge per-fragment range iterators; sparse arrays scan,
// sort, dedup, and coalesce coordinates.  Both paths end in the
// copier.
func readAs[T domain.Num](ctx context.Context, q *Query) error {
	g := gridOf[T](q)
	sub := subarrayOf[T](q)
	var ranges []cellRange
	if q.schema.IsDense() {
		var err error
		ranges, err = denseRead(ctx, q, g, sub)
		if err != nil {
			return err
		}
	} else {
		var err error
		ranges, err = sparseRead(ctx, q, g, sub)
		if err != nil {
			return err
		}
	}
	q.logger.Debug("computed cell ranges", zap.Int("ranges", len(ranges)))
	return q.copyAttrs(ctx, ranges)
}

func sparseRead[T domain.Num](ctx context.Context, q *Query, g *domain.Grid[T], sub []T) ([]cellRange, error) {
	tiles := computeOverlappingTiles(q, sub)
	q.logger.Debug("planned overlapping tiles", zap.Int("tiles", len(tiles)))
	if err := q.loadTiles(ctx, tiles, gridstore.Coords, false); err != nil {
		return nil, err
	}
	var coords []*overlappingCoords[T]
	for _, ot := range tiles {
		cs, err := scanCoords(q, ot, sub)
		if err != nil {
			return nil, err
		}
		coords = append(coords, cs...)
	}
	sortCoords(g, coords, q.layout)
	dedupCoords(coords)
	return coalesceRanges(coords), nil
}
