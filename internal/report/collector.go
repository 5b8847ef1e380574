// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package report

import (
	"context"
	"io"
)

// Collector produces the data of one segment. Returning an error marks the
// collection as failed and the segment is left out of the report.
type Collector interface {
	Collect(ctx context.Context, w io.Writer) error
}

// CollectorFunc adapts an ordinary function to the Collector interface.
type CollectorFunc func(ctx context.Context, w io.Writer) error

func (f CollectorFunc) Collect(ctx context.Context, w io.Writer) error {
	return f(ctx, w)
}
