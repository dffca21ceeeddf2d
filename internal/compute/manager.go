package compute

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/api"
	"github.com/dgnsrekt/gexlive/internal/notify"
	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// Computer submits one compute request. Both api.HTTPClient and
// live.Controller satisfy it.
type Computer interface {
	Compute(ctx context.Context, req api.ComputeRequest) (viewmodel.Metrics, error)
}

type Manager struct {
	computer     Computer
	outputDir    string
	format       string
	workers      int
	skipExisting bool
	clock        clockwork.Clock
	logger       *zap.Logger
}

type BatchResult struct {
	ID      string
	Total   int
	Success int
	Skipped int
	Failed  int
	Errors  []string
	Outputs []string
}

// Summary converts the result for notifications.
func (r *BatchResult) Summary() notify.BatchSummary {
	return notify.BatchSummary{
		Total:   r.Total,
		Success: r.Success,
		Failed:  r.Failed,
		Errors:  r.Errors,
	}
}

// Options tunes a Manager.
type Options struct {
	OutputDir    string
	Format       string
	Workers      int
	SkipExisting bool
}

func NewManager(computer Computer, opts Options, clock clockwork.Clock, logger *zap.Logger) *Manager {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	return &Manager{
		computer:     computer,
		outputDir:    opts.OutputDir,
		format:       opts.Format,
		workers:      opts.Workers,
		skipExisting: opts.SkipExisting,
		clock:        clock,
		logger:       logger,
	}
}

func (m *Manager) Execute(ctx context.Context, tasks []Task) (*BatchResult, error) {
	result := &BatchResult{ID: uuid.NewString(), Total: len(tasks)}

	if len(tasks) == 0 {
		return result, nil
	}
	if m.format != FormatJSON && m.format != FormatYAML {
		return nil, fmt.Errorf("unknown output format %q", m.format)
	}

	logger := m.logger.With(zap.String("batch", result.ID))
	jobs := make(chan Task, len(tasks))
	results := make(chan TaskResult, len(tasks))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(ctx, result.ID, logger, jobs, results)
		}()
	}

	// Send jobs
	go func() {
		defer close(jobs)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case jobs <- task:
			}
		}
	}()

	// Wait for workers and close results
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for r := range results {
		switch {
		case r.Skipped:
			result.Skipped++
		case r.Success:
			result.Success++
			result.Outputs = append(result.Outputs, r.OutputPath)
		default:
			result.Failed++
			if r.Error != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.Task, r.Error))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Manager) worker(ctx context.Context, batchID string, logger *zap.Logger, jobs <-chan Task, results chan<- TaskResult) {
	for task := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := m.processTask(ctx, batchID, logger, task)

		select {
		case <-ctx.Done():
			return
		case results <- result:
		}
	}
}

func (m *Manager) processTask(ctx context.Context, batchID string, logger *zap.Logger, task Task) TaskResult {
	outputPath := task.OutputPath(m.outputDir, m.format)
	result := TaskResult{Task: task, OutputPath: outputPath}

	// Check if result exists (resume)
	if m.skipExisting {
		if _, err := os.Stat(outputPath); err == nil {
			logger.Debug("skipping existing result", zap.String("task", task.String()))
			result.Skipped = true
			return result
		}
	}

	f, err := os.Open(task.Path)
	if err != nil {
		result.Error = fmt.Errorf("opening input: %w", err)
		return result
	}
	defer func() { _ = f.Close() }()

	logger.Info("computing", zap.String("task", task.String()))

	metrics, err := m.computer.Compute(ctx, api.ComputeRequest{
		File:         f,
		FileName:     filepath.Base(task.Path),
		Spot:         task.Params.Spot,
		Volatility:   task.Params.Volatility,
		Strikes:      task.Params.Strikes,
		Expiry:       task.Params.Expiry,
		ContractSize: task.Params.ContractSize,
		ColumnMode:   task.Params.ColumnMode,
	})
	if err != nil {
		result.Error = err
		return result
	}

	record := NewRecord(batchID, task.Path, m.clock.Now(), metrics)
	data, err := record.Marshal(m.format)
	if err != nil {
		result.Error = fmt.Errorf("encoding result: %w", err)
		return result
	}
	if err := WriteAtomic(outputPath, data); err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	logger.Info("computed",
		zap.String("task", task.String()),
		zap.String("output", outputPath),
		zap.String("sentiment", record.Sentiment),
	)
	return result
}
