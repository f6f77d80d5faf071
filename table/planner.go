package table

import (
	"log/slog"
	"slices"

	"github.com/BrobridgeOrg/go-delta/deltalog"
	"github.com/BrobridgeOrg/go-delta/internal/metrics"
)

// ReadTask is one data file to read, with everything the executor needs to
// turn it into batches of the output schema.
type ReadTask struct {
	// Index is the task position in plan order.
	Index int
	// Path is the file path as recorded in the log.
	Path string
	// Location is the absolute location of the file.
	Location string
	File     *deltalog.FileEntry
	// Columns are the output columns in output order.
	Columns []string
	// DataColumns are the non-partition columns decoded from the file: the
	// output columns plus those the residual references, in table order.
	DataColumns []string
	// Partition holds the constants injected for needed partition columns.
	Partition map[string]any
	// Residual is the part of the predicate that must still be evaluated per
	// row; nil when the file is known to match entirely.
	Residual *Expression
}

// PlanSummary counts the outcome of one planning pass.
type PlanSummary struct {
	Files            int
	Planned          int
	PrunedPartitions int
	PrunedStatistics int
}

type scanPlanner struct {
	state     *deltalog.TableState
	partition *PartitionPruner
	// stats is nil when statistics are disabled.
	stats   *StatsPruner
	metrics *metrics.ScanMetrics
	logger  *slog.Logger
}

func newScanPlanner(state *deltalog.TableState, useStatistics bool, m *metrics.ScanMetrics, logger *slog.Logger) *scanPlanner {
	p := &scanPlanner{
		state:     state,
		partition: NewPartitionPruner(state.PartitionColumns()),
		metrics:   m,
		logger:    logger,
	}
	if useStatistics {
		p.stats = NewStatsPruner(state.Schema(), state.PartitionColumns())
	}
	return p
}

// plan emits one task per live file that may hold matching rows, in the
// table's file order. predicate must be bound to the table schema.
func (p *scanPlanner) plan(columns []string, predicate *Expression) ([]ReadTask, PlanSummary) {
	files := p.state.Files()
	summary := PlanSummary{Files: len(files)}
	conjuncts := predicate.Conjuncts()

	var tasks []ReadTask
	for i := range files {
		f := &files[i]
		if predicate != nil {
			if !p.partition.Keep(predicate, f.Partition) {
				summary.PrunedPartitions++
				p.metrics.FilePruned(metrics.ReasonPartition)
				continue
			}
			if p.stats != nil && !p.stats.Keep(predicate, f.Stats) {
				summary.PrunedStatistics++
				p.metrics.FilePruned(metrics.ReasonStatistics)
				continue
			}
		}

		residual := p.residual(conjuncts, f)
		task := ReadTask{
			Index:     len(tasks),
			Path:      f.Path,
			Location:  p.state.FileLocation(f),
			File:      f,
			Columns:   columns,
			Residual:  residual,
			Partition: make(map[string]any),
		}
		needed := append(slices.Clone(columns), residual.GetReferencedColumns()...)
		for _, name := range p.state.Schema().Names() {
			if !slices.Contains(needed, name) {
				continue
			}
			if p.state.IsPartitionColumn(name) {
				task.Partition[name] = f.Partition[name]
			} else {
				task.DataColumns = append(task.DataColumns, name)
			}
		}
		tasks = append(tasks, task)
		p.metrics.FilePlanned()
	}

	summary.Planned = len(tasks)
	p.logger.Debug("planned scan",
		"files", summary.Files,
		"tasks", summary.Planned,
		"pruned_partition", summary.PrunedPartitions,
		"pruned_statistics", summary.PrunedStatistics)
	return tasks, summary
}

// residual drops the conjuncts a file's partition values or statistics prove
// true for every row.
func (p *scanPlanner) residual(conjuncts []*Expression, f *deltalog.FileEntry) *Expression {
	var keep []*Expression
	for _, c := range conjuncts {
		if p.partition.Evaluate(c, f.Partition).AlwaysTrue() {
			continue
		}
		if p.stats != nil && p.stats.Evaluate(c, f.Stats).AlwaysTrue() {
			continue
		}
		keep = append(keep, c)
	}
	return conjunction(keep)
}

// conjunction ANDs bound expressions; nil for none.
func conjunction(exprs []*Expression) *Expression {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	}
	return &Expression{Op: OpAnd, Children: exprs, bound: true}
}
