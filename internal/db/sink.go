package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/textsieve/internal/models"
)

// DefaultBatchSize is how many blocks a BlockSink sends per round trip.
const DefaultBatchSize = 100

// BlockSink writes kept blocks in batches and saves the run row on Finish.
type BlockSink struct {
	client    *Client
	profile   string
	inputs    []string
	batchSize int
	pending   []models.Block
}

// NewSink returns a sink writing one run through the client.
func (c *Client) NewSink(profile string, inputs []string, batchSize int) *BlockSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BlockSink{
		client:    c,
		profile:   profile,
		inputs:    inputs,
		batchSize: batchSize,
		pending:   make([]models.Block, 0, batchSize),
	}
}

func (s *BlockSink) Accept(ctx context.Context, b models.Block) error {
	s.pending = append(s.pending, b)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flush(ctx)
}

func (s *BlockSink) flush(ctx context.Context) error {
	if err := s.client.QueryInsertBlocks(ctx, s.pending); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *BlockSink) Finish(ctx context.Context, stats models.RunStats) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	if err := s.client.QuerySaveRun(ctx, models.NewRunRecord(stats, s.profile, s.inputs)); err != nil {
		return fmt.Errorf("finish run %s: %w", stats.RunID, err)
	}
	return nil
}
