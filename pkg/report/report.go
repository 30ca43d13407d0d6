// Package report writes conversion and build reports to the output directory
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

const (
	conversionReportName = "conversion-report"
	buildReportName      = "build-report"
)

// Writer serializes reports as JSON or YAML
type Writer struct {
	dir    string
	format types.ReportFormat
	log    logger.Logger
}

// NewWriter creates a writer storing reports under dir. An empty format
// means JSON.
func NewWriter(dir string, format types.ReportFormat, log logger.Logger) (*Writer, error) {
	switch format {
	case "":
		format = types.ReportFormatJSON
	case types.ReportFormatJSON, types.ReportFormatYAML:
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Writer{dir: dir, format: format, log: log}, nil
}

// Dir returns the directory reports are written to
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the file a report with the given base name is written to
func (w *Writer) Path(name string) string {
	ext := ".json"
	if w.format == types.ReportFormatYAML {
		ext = ".yaml"
	}
	return filepath.Join(w.dir, name+ext)
}

// WriteConversion writes a conversion report and returns its path
func (w *Writer) WriteConversion(r *types.ConversionReport) (string, error) {
	return w.write(conversionReportName, r)
}

// WriteBuild writes a build report and returns its path
func (w *Writer) WriteBuild(r *types.BuildReport) (string, error) {
	return w.write(buildReportName, r)
}

func (w *Writer) write(name string, v interface{}) (string, error) {
	data, err := Marshal(w.format, v)
	if err != nil {
		return "", err
	}

	if err := utils.EnsureDirectory(w.dir); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := w.Path(name)
	if err := utils.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	w.log.Debug("Report written", logger.WithField("path", path))
	return path, nil
}

// Marshal encodes a report in the given format
func Marshal(format types.ReportFormat, v interface{}) ([]byte, error) {
	switch format {
	case types.ReportFormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
		return append(data, '\n'), nil
	}
}
