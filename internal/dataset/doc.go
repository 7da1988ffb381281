// Package dataset turns a directory of labeled produce photos into an ordered
// set of samples.
//
// Each immediate subdirectory of the root names a batch of produce and its
// shelf-life range, for example "Banana (2-7)". The label of every image under
// that folder is the midpoint of the range. Folders that do not follow the
// convention, and folders without images, are skipped and reported rather
// than failing the run.
package dataset
