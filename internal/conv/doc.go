// Package conv provides checked integer conversions for values read from
// segment files or counted in memory, where a silent wrap-around would
// corrupt document ids or slice bounds.
package conv
