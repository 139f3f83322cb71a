// Package processor coordinates a full extraction run: read rows, build
// the batch payload, drive the remote job, repair and normalize each
// result line, then persist and export the records.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"termbatch/constants"
	"termbatch/internal/batch"
	"termbatch/internal/export"
	"termbatch/internal/normalize"
	"termbatch/internal/repair"
	"termbatch/internal/repository"
	"termbatch/internal/source"
)

// Outcome is how a run ended from the caller's point of view.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeCancelled Outcome = "CANCELLED"
)

// RunResult summarizes one finished (or cancelled) run.
type RunResult struct {
	JobID         string
	RemoteBatchID string
	Rows          int
	Records       int
	ExportFormat  constants.ExportFormat
	ExportPath    string
	Outcome       Outcome
}

// Processor wires the stages together. All collaborators are required
// except Listener, which defaults to a no-op.
type Processor struct {
	Logger   *slog.Logger
	Builder  *batch.Builder
	Client   *batch.Client
	Engine   *repair.Engine
	Repo     repository.JobRepository
	Exporter *export.Service
	Listener batch.Listener

	// OutputDir receives per-job artifacts: the uploaded payload and the
	// raw downloaded results, kept for replay and debugging.
	OutputDir string

	// DecodeConcurrency bounds parallel repair of result lines. Zero
	// means errgroup's unbounded default is replaced with 4.
	DecodeConcurrency int
}

func NewProcessor(logger *slog.Logger, builder *batch.Builder, client *batch.Client,
	engine *repair.Engine, repo repository.JobRepository, exporter *export.Service,
	outputDir string) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Logger:    logger,
		Builder:   builder,
		Client:    client,
		Engine:    engine,
		Repo:      repo,
		Exporter:  exporter,
		Listener:  batch.NopListener{},
		OutputDir: outputDir,
	}
}

// Run executes the pipeline for one input file. Cancellation via ctx is
// not a failure: the run is marked CANCELLED in the ledger and whatever
// records were already persisted are still exported.
func (p *Processor) Run(ctx context.Context, jobID, inputPath, outPath string) (*RunResult, error) {
	rows, err := source.ReadRows(inputPath, p.Logger)
	if err != nil {
		return nil, err
	}

	payload, index, err := p.Builder.Build(rows)
	if err != nil {
		return nil, err
	}

	if _, err := p.Repo.StartJob(ctx, jobID, inputPath); err != nil {
		return nil, err
	}
	result := &RunResult{JobID: jobID, Rows: len(rows)}

	jobDir := filepath.Join(p.OutputDir, jobID)
	if err := p.writeArtifact(jobDir, "batch_requests.jsonl", payload); err != nil {
		p.Logger.Warn("processor.artifact.payload.failed", "job_id", jobID, "error", err)
	}

	if err := p.Repo.UpdateStatus(ctx, jobID, constants.JobStatusRunning, ""); err != nil {
		return result, err
	}

	remote, execErr := p.Client.Execute(ctx, payload, "term extraction for "+filepath.Base(inputPath))
	if remote != nil {
		result.RemoteBatchID = remote.JobID
		if err := p.Repo.SetRemoteRefs(ctx, jobID, remote.JobID, remote.InputFileRef, remote.OutputFileRef); err != nil {
			p.Logger.Warn("processor.ledger.refs.failed", "job_id", jobID, "error", err)
		}
	}
	if execErr != nil {
		if errors.Is(execErr, batch.ErrCancelled) {
			return p.finishCancelled(ctx, jobID, outPath, result)
		}
		if uerr := p.Repo.UpdateStatus(ctx, jobID, constants.JobStatusFailed, execErr.Error()); uerr != nil {
			p.Logger.Warn("processor.ledger.status.failed", "job_id", jobID, "error", uerr)
		}
		return result, execErr
	}

	return p.completeRun(ctx, jobID, outPath, remote, index, result)
}

// completeRun runs the post-download stages. The results are already in
// hand at this point, so a cancellation arriving now must not discard
// them: everything here runs detached from the caller's cancellation.
func (p *Processor) completeRun(ctx context.Context, jobID, outPath string, remote *batch.Result, index batch.CorrelationIndex, result *RunResult) (*RunResult, error) {
	base := context.WithoutCancel(ctx)

	jobDir := filepath.Join(p.OutputDir, jobID)
	if err := p.writeArtifact(jobDir, "batch_results.jsonl", remote.Raw); err != nil {
		p.Logger.Warn("processor.artifact.results.failed", "job_id", jobID, "error", err)
	}

	records := p.decodeResults(remote.Raw, index)

	if err := p.Repo.SaveRecords(base, jobID, records); err != nil {
		return result, err
	}
	result.Records = len(records)

	format, path, err := p.Exporter.Export(records, outPath)
	if err != nil {
		if uerr := p.Repo.UpdateStatus(base, jobID, constants.JobStatusFailed, err.Error()); uerr != nil {
			p.Logger.Warn("processor.ledger.status.failed", "job_id", jobID, "error", uerr)
		}
		return result, err
	}
	result.ExportFormat = format
	result.ExportPath = path

	if err := p.Repo.UpdateStatus(base, jobID, constants.JobStatusCompleted, ""); err != nil {
		return result, err
	}
	result.Outcome = OutcomeCompleted
	p.Listener.OnComplete()
	p.Logger.Info("processor.run.ok",
		"job_id", jobID,
		"remote_batch_id", result.RemoteBatchID,
		"rows", result.Rows,
		"records", result.Records,
		"export", string(format),
		"path", path,
	)
	return result, nil
}

// finishCancelled marks the job CANCELLED and exports whatever records
// the ledger already holds for it.
func (p *Processor) finishCancelled(ctx context.Context, jobID, outPath string, result *RunResult) (*RunResult, error) {
	// The run context is done; ledger and export still need to finish.
	base := context.WithoutCancel(ctx)
	if err := p.Repo.UpdateStatus(base, jobID, constants.JobStatusCancelled, "cancelled by caller"); err != nil {
		p.Logger.Warn("processor.ledger.status.failed", "job_id", jobID, "error", err)
	}

	records, err := p.Repo.ListRecords(base, jobID)
	if err != nil {
		p.Logger.Warn("processor.cancel.partials.failed", "job_id", jobID, "error", err)
	}
	if len(records) > 0 {
		format, path, xerr := p.Exporter.Export(records, outPath)
		if xerr != nil {
			p.Logger.Warn("processor.cancel.export.failed", "job_id", jobID, "error", xerr)
		} else {
			result.Records = len(records)
			result.ExportFormat = format
			result.ExportPath = path
		}
	}
	result.Outcome = OutcomeCancelled
	p.Logger.Info("processor.run.cancelled", "job_id", jobID, "records", result.Records)
	return result, nil
}

// resultLine is one downloaded JSONL record. Only the first choice's
// content is consumed.
type resultLine struct {
	CorrelationID string `json:"correlationId"`
	Response      struct {
		Body struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

// decodeResults repairs and normalizes every result line, preserving the
// download order of the lines in the returned records. A line whose
// envelope cannot be decoded is logged and skipped; one bad line never
// costs the others their records.
func (p *Processor) decodeResults(raw []byte, index batch.CorrelationIndex) []normalize.TermRecord {
	lines := splitLines(raw)
	perLine := make([][]normalize.TermRecord, len(lines))

	schema := repair.BuildTermsJSONSchema()

	var g errgroup.Group
	limit := p.DecodeConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, line := range lines {
		g.Go(func() error {
			var rl resultLine
			if err := json.Unmarshal([]byte(line), &rl); err != nil {
				p.Logger.Warn("processor.result.line_malformed", "line", i, "error", err)
				return nil
			}
			content := ""
			if len(rl.Response.Body.Choices) > 0 {
				content = rl.Response.Body.Choices[0].Message.Content
			}

			repaired := p.Engine.Repair(content)
			if b, err := json.Marshal(repaired); err == nil {
				if verr := repair.ValidateAgainstSchema(schema, b); verr != nil {
					p.Logger.Warn("processor.result.schema_mismatch",
						"correlation_id", rl.CorrelationID, "error", verr)
				}
			}

			perLine[i] = normalize.Normalize(rl.CorrelationID, repaired, index, p.Logger)
			return nil
		})
	}
	_ = g.Wait()

	var records []normalize.TermRecord
	for _, recs := range perLine {
		records = append(records, recs...)
	}
	return records
}

func splitLines(raw []byte) []string {
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (p *Processor) writeArtifact(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
