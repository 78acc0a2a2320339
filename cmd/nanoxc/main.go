// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsujirushi/nanoimage"
	nlog "github.com/matsujirushi/nanoimage/internal/log"
)

var (
	verbose   bool
	outPath   string
	dryRun    bool
	showStats bool
)

func prettyPrint(v interface{}) string {
	buff, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buff, "", "\t"); err != nil {
		log.Println("JSON format error:", err)
		return string(buff)
	}
	return pretty.String()
}

func compile(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	img, closeImage, err := nanoimage.OpenImage(imagePath)
	if err != nil {
		return err
	}
	defer closeImage()

	settings := &nanoimage.Settings{
		Program: nanoimage.NewImageReader(img),
	}
	if verbose {
		settings.Logger = nlog.NewStdLogger(os.Stderr)
	}
	compiler, err := nanoimage.NewCompiler(settings)
	if err != nil {
		return fmt.Errorf("building compiler: %w", err)
	}

	execSet, err := compiler.Compile()
	if err != nil {
		return fmt.Errorf("compiling %s: %w", imagePath, err)
	}

	if showStats {
		estimate := execSet.Estimate()
		fmt.Println(prettyPrint(estimate))
	}

	if dryRun {
		log.Printf("dry run: would upload %d types, %d methods, %d fields",
			len(execSet.Types), len(execSet.Methods), len(execSet.Fields))
		return nil
	}

	if outPath == "" {
		log.Println("no --out given, skipping upload")
		return nil
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer f.Close()

	transport := nanoimage.NewFileTransport(f)
	uploader := nanoimage.NewUploadDriver(transport, nil)
	if err := uploader.UploadFull(context.Background(), execSet); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	log.Printf("wrote %s", outPath)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "nanoxc",
		Short: "An ahead-of-time cross-compiler for managed bytecode images",
		Long:  "nanoxc compiles a managed program image into a flashable image for a resource-constrained managed execution engine",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("nanoxc 0.0.1")
		},
	}

	compileCmd := &cobra.Command{
		Use:   "compile [image.json]",
		Short: "Compile a program image into a device-ready execution set",
		Args:  cobra.ExactArgs(1),
		RunE:  compile,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	compileCmd.Flags().StringVarP(&outPath, "out", "o", "", "write the framed image to this file instead of a live device")
	compileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compile and report statistics without writing an image")
	compileCmd.Flags().BoolVar(&showStats, "stats", false, "print the memory estimate before upload")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(compileCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
