// Package decode implements the multi-state decode input: a raw reading is
// masked, shifted and matched against up to sixteen configured state values
// to yield a labeled state index.
package decode
