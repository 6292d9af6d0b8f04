// Package selector implements the N-way selector: one output chosen from up
// to twelve inputs by index, maximum, minimum or median.
package selector
