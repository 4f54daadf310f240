// Package workload holds the compiled-in workload table. Each file
// registers one workload with the default registry at program
// initialization; importing this package for side effects populates
// the table.
package workload
