// Package converter runs the conversion pass over every project of a graph
package converter

import (
	"context"
	"fmt"
	"time"

	"github.com/projbuild/projbuild/pkg/builders"
	pcontext "github.com/projbuild/projbuild/pkg/context"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
)

// Pass converts every not-yet-converted project in discovery order. A failed
// conversion is recorded and the pass moves on.
type Pass struct {
	graph     *graph.Graph
	converter builders.Converter
	log       logger.Logger
	now       func() time.Time
}

// New creates a conversion pass
func New(g *graph.Graph, c builders.Converter, log logger.Logger) *Pass {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pass{
		graph:     g,
		converter: c,
		log:       log,
		now:       time.Now,
	}
}

// Run converts the graph and returns the report. Cancelling ctx stops the
// pass between projects.
func (p *Pass) Run(ctx context.Context) *types.ConversionReport {
	start := time.Now()
	log := logger.WithContext(ctx, p.log)

	report := &types.ConversionReport{ReportDate: p.now()}
	if pcontext.HasRunID(ctx) {
		report.RunID = pcontext.GetRunID(ctx)
	}

	for _, node := range p.graph.Nodes() {
		if node.ConversionStatus() != types.ConversionStatusNotConverted {
			continue
		}

		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, types.ProjectError{
				Path:  node.Path(),
				Error: fmt.Sprintf("conversion cancelled: %v", err),
			})
			report.Failed.Add(node.Path())
			log.Warn("Conversion cancelled", logger.WithError(err))
			break
		}

		plog := log.WithProject(node.Name())
		plog.Info(fmt.Sprintf("Converting %s", node.Path()))

		status := types.ConversionStatusConverted
		if err := p.converter.Convert(ctx, node); err != nil {
			status = types.ConversionStatusFailed
			report.Failed.Add(node.Path())
			report.Errors = append(report.Errors, types.ProjectError{Path: node.Path(), Error: err.Error()})
			plog.Error("Conversion failed", logger.WithError(err))
		} else {
			report.Completed.Add(node.Path())
			plog.Success("Converted")
		}

		if err := p.graph.SetConversion(node.Path(), status); err != nil {
			plog.Warn("Failed to record conversion status", logger.WithError(err))
		}
	}

	report.ProjectCount = report.Completed.Count + report.Failed.Count
	report.Status = types.RunStatusSuccess
	if report.Failed.Count > 0 {
		report.Status = types.RunStatusFailed
	}
	report.Elapsed = time.Since(start)
	report.ExecutedIn = types.FormatElapsed(report.Elapsed)

	log.Info(fmt.Sprintf("Conversion completed in %s", report.ExecutedIn),
		logger.WithField("converted", report.Completed.Count),
		logger.WithField("failed", report.Failed.Count))

	return report
}
