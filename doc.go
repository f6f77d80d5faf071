// Package godelta reads Delta Lake tables as streams of Apache Arrow record
// batches.
//
// A scan resolves one table version from the transaction log, prunes data
// files by partition values and file statistics, and decodes the surviving
// parquet files concurrently:
//
//   - Local filesystem, S3, Azure Blob and Google Cloud Storage
//   - Time travel to any reconstructable version
//   - Projection and predicate pushdown
//   - Schema evolution: columns added later read as NULL
//
// # Quick Start
//
// Scan a table:
//
//	scan, err := godelta.ScanDelta(ctx, "s3://bucket/events",
//	    godelta.WithStorageOptions(map[string]string{"aws_region": "eu-west-1"}),
//	)
//	tbl, err := scan.
//	    Select("id", "name").
//	    Filter(table.And(table.Eq("date", "2024-01-02"), table.Gt("id", 100))).
//	    ToArrowTable(ctx)
//
// Stream batches:
//
//	it, err := scan.Batches(ctx)
//	defer it.Close()
//	for {
//	    rec, err := it.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	    rec.Release()
//	}
//
// # Filters
//
// Filters are three-valued: a comparison with NULL is NULL, and only rows
// whose filter is TRUE are returned. NOT (x = 1) therefore skips rows where
// x is NULL.
package godelta
