// elRad: a tool for converting SAM/BAM files to RAD files.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elrad/blob/master/LICENSE.txt>.


package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/exascience/elrad/internal"
	"github.com/exascience/elrad/rad"
)

// ConvertHelp is the help string for this command.
const ConvertHelp = "convert parameters:\n" +
	"elrad convert sam-file rad-file\n" +
	"[--barcode-tag tag]\n" +
	"[--umi-tag tag]\n" +
	"[--chunk-size nr]\n" +
	"[--nr-of-threads nr]\n" +
	"[--atomic]\n" +
	"[--progress nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

func checkTag(parameter, tag string) bool {
	if len(tag) != 2 {
		log.Printf("Error: Invalid SAM tag %q for command line parameter %v.\n", tag, parameter)
		return false
	}
	return true
}

// Convert implements the elrad convert command.
func Convert() error {
	var (
		barcodeTag, umiTag, profile, logPath string
		chunkSize, nrOfThreads, progress     int
		atomic, timed                        bool
	)

	var flags flag.FlagSet

	flags.StringVar(&barcodeTag, "barcode-tag", rad.DefaultBarcodeTag, "SAM tag of the cell barcode")
	flags.StringVar(&umiTag, "umi-tag", rad.DefaultUMITag, "SAM tag of the UMI")
	flags.IntVar(&chunkSize, "chunk-size", rad.DefaultChunkCapacity, "number of reads per chunk")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of threads for decompressing the input")
	flags.BoolVar(&atomic, "atomic", false, "write to a temporary file that is renamed on success")
	flags.IntVar(&progress, "progress", 100, "log progress every nr chunks, 0 to disable")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a cpu profile")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 4, ConvertHelp)

	input := getFilename(os.Args[2], ConvertHelp)
	output := getFilename(os.Args[3], ConvertHelp)

	setLogOutput(logPath)

	// sanity checks

	sanityChecksFailed := !checkExist("", input)
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if !checkTag("--barcode-tag", barcodeTag) {
		sanityChecksFailed = true
	}
	if !checkTag("--umi-tag", umiTag) {
		sanityChecksFailed = true
	}
	if chunkSize <= 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid chunk-size: ", chunkSize)
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid nr-of-threads: ", nrOfThreads)
	}
	if progress < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid progress: ", progress)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, ConvertHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " convert ", input, " ", output)
	fmt.Fprint(&command, " --barcode-tag ", barcodeTag)
	fmt.Fprint(&command, " --umi-tag ", umiTag)
	fmt.Fprint(&command, " --chunk-size ", chunkSize)
	if nrOfThreads > 0 {
		fmt.Fprint(&command, " --nr-of-threads ", nrOfThreads)
	}
	if atomic {
		fmt.Fprint(&command, " --atomic")
	}
	fmt.Fprint(&command, " --progress ", progress)
	if timed {
		fmt.Fprint(&command, " --timed")
	}
	if profile != "" {
		fmt.Fprint(&command, " --profile ", profile)
	}
	fmt.Fprint(&command, " --log-path ", logPath)

	// executing command

	log.Println("Executing command:\n", command.String())

	fullInput, err := internal.FullPathname(input)
	if err != nil {
		return err
	}
	fullOutput, err := internal.FullPathname(output)
	if err != nil {
		return err
	}

	if size := internal.FileSize(fullInput); size >= 0 {
		log.Printf("Converting %v (%v).\n", fullInput, humanize.Bytes(uint64(size)))
	}

	opts := rad.Options{
		BarcodeTag:    barcodeTag,
		UMITag:        umiTag,
		ChunkCapacity: chunkSize,
		Threads:       nrOfThreads,
		Atomic:        atomic,
	}
	if progress > 0 {
		opts.Progress = func(chunks uint64) {
			if chunks%uint64(progress) == 0 {
				log.Printf("Wrote %v chunks, %v reads.\n",
					humanize.Comma(int64(chunks)), humanize.Comma(int64(chunks)*int64(chunkSize+1)))
			}
		}
	}

	var summary *rad.Summary
	if err = timedRun(timed, profile, "Converting SAM/BAM to RAD.", 1, func() (err error) {
		summary, err = rad.ConvertFile(fullInput, fullOutput, opts)
		return err
	}); err != nil {
		return err
	}

	log.Printf("Read %v alignments, %v of them unmapped.\n",
		humanize.Comma(int64(summary.Alignments)), humanize.Comma(int64(summary.Unmapped)))
	log.Printf("Wrote %v reads in %v chunks, hitting %v of %v targets.\n",
		humanize.Comma(int64(summary.Reads)), humanize.Comma(int64(summary.Chunks)),
		humanize.Comma(int64(summary.TargetsHit)), humanize.Comma(int64(summary.Targets)))
	if summary.Skipped > 0 {
		log.Printf("Warning: Skipped %v reads with more than one N in their barcode or UMI.\n", humanize.Comma(int64(summary.Skipped)))
	}
	if size := internal.FileSize(fullOutput); size >= 0 {
		log.Printf("Output %v has %v.\n", fullOutput, humanize.Bytes(uint64(size)))
	}
	return nil
}
