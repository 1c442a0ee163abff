package transforms

import "pipeline/internal/registry"

// Options configures the shipped transforms.
type Options struct {
	CSVEncoding string
}

// Definitions lists the transforms available at startup, keyed by the raw
// file name each one stages.
func Definitions(opt Options) []registry.Definition {
	return []registry.Definition{
		{
			Key:    "els_metrics.csv",
			Module: "transforms/csv",
			Load: func() (registry.Transform, error) {
				return CSV(CSVOptions{Encoding: opt.CSVEncoding})
			},
		},
		{
			Key:    "els.xlsx",
			Module: "transforms/els",
			Load: func() (registry.Transform, error) {
				return ELS, nil
			},
		},
	}
}
