// Package mocks provides centralized fakes for the interfaces that cross
// package boundaries: the task store, the analyzer and the queue producer.
//
// Each fake keeps working default behavior and exposes function fields to
// override it per test:
//
//	analyzer := &mocks.MockAnalyzer{
//	    AnalyzeFn: func(ctx context.Context, text string, mode generation.Mode) (*generation.Analysis, error) {
//	        return nil, generation.ErrTransientFailure
//	    },
//	}
package mocks
