// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/matsujirushi/nanoimage"
)

func parse(imagePath string, cfg config) error {
	img, closeImage, err := nanoimage.OpenImage(imagePath)
	if err != nil {
		return err
	}
	defer closeImage()

	compiler, err := nanoimage.NewCompiler(&nanoimage.Settings{
		Program: nanoimage.NewImageReader(img),
	})
	if err != nil {
		return err
	}

	execSet, err := compiler.Compile()
	if err != nil {
		return err
	}

	if cfg.wantTypes {
		dumpTypes(execSet)
	}
	if cfg.wantMethods {
		dumpMethods(execSet)
	}
	if cfg.wantFields {
		dumpFields(execSet)
	}
	if cfg.wantStrings {
		dumpStrings(execSet)
	}
	if cfg.wantInit {
		dumpInitOrder(execSet)
	}
	if cfg.wantStats {
		dumpStats(execSet)
	}
	return nil
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func dumpTypes(es *nanoimage.ExecutionSet) {
	w := newTabWriter()
	fmt.Fprintln(w, "TOKEN\tNAME\tKIND\tINSTANCE\tSTATIC")
	for _, t := range es.Types {
		fmt.Fprintf(w, "0x%08x\t%s\t%s\t%d\t%d\n", t.Token, t.FullName(), t.Kind, t.InstanceSize, t.StaticSize)
	}
	w.Flush()
}

func dumpMethods(es *nanoimage.ExecutionSet) {
	w := newTabWriter()
	fmt.Fprintln(w, "TOKEN\tNAME\tBODY BYTES")
	for _, m := range es.Methods {
		fmt.Fprintf(w, "0x%08x\t%s\t%d\n", m.Token, m.FullName(), len(m.Body))
	}
	w.Flush()
}

func dumpFields(es *nanoimage.ExecutionSet) {
	w := newTabWriter()
	fmt.Fprintln(w, "TOKEN\tNAME\tKIND\tSIZE")
	for _, f := range es.Fields {
		fmt.Fprintf(w, "0x%08x\t%s\t%s\t%d\n", f.Token, f.FullName(), f.Kind, f.Size)
	}
	w.Flush()
}

func dumpStrings(es *nanoimage.ExecutionSet) {
	w := newTabWriter()
	fmt.Fprintln(w, "TOKEN\tVALUE")
	for _, s := range es.Strings {
		fmt.Fprintf(w, "0x%08x\t%q\n", s.Token, s.Value)
	}
	w.Flush()
}

func dumpInitOrder(es *nanoimage.ExecutionSet) {
	for i, t := range es.InitOrder {
		fmt.Printf("%3d  0x%08x  %s\n", i, t.Token, t.FullName())
	}
}

func dumpStats(es *nanoimage.ExecutionSet) {
	est := es.Estimate()
	fmt.Printf("code:     %d bytes\n", est.CodeBytes)
	fmt.Printf("static:   %d bytes\n", est.StaticBytes)
	fmt.Printf("metadata: %d bytes\n", est.MetadataBytes)
	fmt.Printf("total:    %d bytes\n", est.TotalBytes)
}
