package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/answerdesk/answerdesk-back/internal/batch"
	"github.com/answerdesk/answerdesk-back/internal/domain"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/queue"
	"github.com/answerdesk/answerdesk-back/internal/repository"
)

// Processor consumes queued run requests and drives the batch processor.
type Processor struct {
	consumer  queue.Consumer
	processor *batch.Processor
	logger    *log.Logger
}

func NewProcessor(consumer queue.Consumer, processor *batch.Processor, logger *log.Logger) *Processor {
	return &Processor{
		consumer:  consumer,
		processor: processor,
		logger:    logger,
	}
}

func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.RunMessage) error {
	err := p.processor.Run(ctx, batch.RunRequest{
		JobID:      message.JobID,
		SkillIDs:   message.SkillIDs,
		BatchSize:  message.BatchSize,
		ModelSpeed: inference.NormalizeSpeed(message.ModelSpeed),
	})
	if err == nil {
		return nil
	}

	// Validation failures and vanished jobs will fail identically on every
	// retry, so ack them instead of cycling through the DLQ.
	if errors.Is(err, batch.ErrInvalidBatchSize) ||
		errors.Is(err, batch.ErrNoSkillsSelected) ||
		errors.Is(err, batch.ErrNoPendingRows) ||
		errors.Is(err, repository.ErrNotFound) {
		if p.logger != nil {
			p.logger.Printf("dropping unprocessable run job_id=%s err=%v", message.JobID, err)
		}
		return nil
	}

	if p.logger != nil {
		p.logger.Printf("run failed job_id=%s attempt=%d err=%v", message.JobID, message.Attempt, err)
	}
	return err
}
