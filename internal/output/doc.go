// Package output persists assembled segments and reads them back.
//
// Writer implements assembly.Writer for the "dataset", "image" and "both"
// save modes. Segment data files and images are written per batch; the
// dataset-level metadata under meta/ is written once by Finish, every JSON
// document through an atomic rename. Open loads a finished dataset for
// inspection.
package output
