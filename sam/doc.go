// Package sam reads the alignment records of SAM and BAM files, for
// conversion into RAD files.
//
// Only the parts of an alignment that matter for RAD conversion are
// kept: the read name, the flags, the reference id, and the optional
// fields. Alignments are delivered strictly in file order by
// InputFile.Read. BGZF-compressed input is inflated in parallel, using
// the pargo library (see https://godoc.org/github.com/ExaScience/pargo/pipeline),
// but parsing itself is sequential.
package sam
