// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xataio/relnorm/cmd/config"
	"github.com/xataio/relnorm/internal/log/zerolog"
	"github.com/xataio/relnorm/internal/progress"
	loglib "github.com/xataio/relnorm/pkg/log"
	"github.com/xataio/relnorm/pkg/otel"
	"github.com/xataio/relnorm/pkg/pipeline"
	"github.com/xataio/relnorm/pkg/schema/file"
	"github.com/xataio/relnorm/pkg/storage"
)

var (
	errNoInput          = errors.New("at least one input file is required")
	errResourceRequired = errors.New("a resource is required when more than one is configured")
)

const (
	stdinInput      = "-"
	maxDocumentSize = 64 * 1024 * 1024
)

type pipelineOptions struct {
	progressTracking bool
}

func newLogger() loglib.Logger {
	logger := zerolog.NewLogger(&zerolog.Config{
		LogLevel: viper.GetString("RELNORM_LOG_LEVEL"),
		JSON:     viper.GetBool("RELNORM_LOG_JSON"),
	})
	zerolog.SetGlobalLogger(logger)
	return zerolog.NewStdLogger(logger)
}

// newPipeline builds the pipeline from the configuration, with its load
// package and schema store on the local filesystem. The returned provider
// must be closed by the caller.
func newPipeline(logger loglib.Logger, opts pipelineOptions) (*pipeline.Pipeline, otel.InstrumentationProvider, error) {
	cfg, err := config.ParsePipelineConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing pipeline config: %w", err)
	}
	if err := overrideItemsPath(cfg); err != nil {
		return nil, nil, err
	}

	fsys := afero.NewOsFs()
	store, err := file.NewStore(fsys, config.SchemaDir(), file.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("creating schema store: %w", err)
	}
	pkg := storage.NewLoadPackage(fsys, config.StorageDir(), storage.WithLogger(logger))

	provider, err := newInstrumentationProvider()
	if err != nil {
		return nil, nil, err
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithInstrumentation(provider.NewInstrumentation("relnorm")),
	}
	if opts.progressTracking {
		pipelineOpts = append(pipelineOpts, pipeline.WithProgressTracking())
	}
	p, err := pipeline.New(cfg, pkg, store, pipelineOpts...)
	if err != nil {
		provider.Close()
		return nil, nil, err
	}
	return p, provider, nil
}

// overrideItemsPath applies the items path flag to the resource of the
// input files.
func overrideItemsPath(cfg *pipeline.Config) error {
	itemsPath := viper.GetString("RELNORM_INPUT_ITEMS_PATH")
	if itemsPath == "" {
		return nil
	}
	names := make([]string, 0, len(cfg.Resources))
	for _, rc := range cfg.Resources {
		names = append(names, rc.Name)
	}
	resource, err := inputResource(names)
	if err != nil {
		return err
	}
	for i := range cfg.Resources {
		if cfg.Resources[i].Name == resource {
			cfg.Resources[i].ItemsPath = itemsPath
		}
	}
	return nil
}

func inputResource(resources []string) (string, error) {
	if resource := viper.GetString("RELNORM_INPUT_RESOURCE"); resource != "" {
		return resource, nil
	}
	if len(resources) != 1 {
		return "", errResourceRequired
	}
	return resources[0], nil
}

func inputFlagBinding(cmd *cobra.Command, _ []string) {
	viper.BindPFlag("RELNORM_INPUT", cmd.Flags().Lookup("input"))
	viper.BindPFlag("RELNORM_INPUT_RESOURCE", cmd.Flags().Lookup("resource"))
	viper.BindPFlag("RELNORM_INPUT_ITEMS_PATH", cmd.Flags().Lookup("items-path"))
}

func normalizeFlagBinding(cmd *cobra.Command) {
	// to be able to overwrite configuration with flags when yaml config file is
	// provided
	viper.BindPFlag("pipeline.workers", cmd.Flags().Lookup("workers"))
	// to be able to overwrite configuration with flags when env config file is
	// provided or when no configuration is provided
	viper.BindPFlag("RELNORM_WORKERS", cmd.Flags().Lookup("workers"))
}

// inputSources reads the input files into sources for the input resource.
func inputSources(p *pipeline.Pipeline, inputs []string, showProgress bool) ([]pipeline.Source, error) {
	if len(inputs) == 0 {
		return nil, errNoInput
	}
	resource, err := inputResource(p.ResourceNames())
	if err != nil {
		return nil, err
	}

	var bar progress.Bar
	if showProgress {
		bar = progress.NewCountBar(len(inputs), "[cyan][1/2][reset] reading inputs...")
	}

	sources := make([]pipeline.Source, 0, len(inputs))
	for _, input := range inputs {
		docs, err := readDocuments(afero.NewOsFs(), input)
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", input, err)
		}
		src, err := p.DocumentSource(resource, docs...)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input, err)
		}
		sources = append(sources, src)
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Close()
	}
	return sources, nil
}

// readDocuments returns the json documents of the input. Files with a
// .jsonl or .ndjson extension hold one document per line, other inputs a
// single document.
func readDocuments(fsys afero.Fs, input string) ([][]byte, error) {
	if input == stdinInput {
		doc, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		return [][]byte{doc}, nil
	}

	f, err := fsys.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch filepath.Ext(input) {
	case ".jsonl", ".ndjson":
		return readLines(f)
	default:
		doc, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return [][]byte{doc}, nil
	}
}

func readLines(r io.Reader) ([][]byte, error) {
	docs := [][]byte{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocumentSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// the scanner reuses its buffer
		docs = append(docs, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
