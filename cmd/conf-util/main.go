// conf-util is an offline maintenance tool for datastore files:
// export and import module content as JSON, validate persisted
// datastores and copy content between datastores.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/nexusconf/compressors"
	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/storage"
	"github.com/INLOpen/nexusconf/tree"
)

func usage() {
	fmt.Println("Usage: conf-util <export|import|validate|copy> [flags]")
	fmt.Println("Run 'conf-util <command> -h' for command flags.")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "export":
		err = runExport(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "copy":
		err = runCopy(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		slog.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

type commonFlags struct {
	dataDir   string
	schemaDir string
	logLevel  string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.dataDir, "data", "", "Path to the datastore directory (required)")
	fs.StringVar(&c.schemaDir, "schemas", "", "Path to the schema module directory (required)")
	fs.StringVar(&c.logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
}

// open builds the store and registry the commands work on.
func (c *commonFlags) open() (*storage.Store, *schema.Registry, *slog.Logger, error) {
	if c.dataDir == "" || c.schemaDir == "" {
		return nil, nil, nil, fmt.Errorf("-data and -schemas are required")
	}
	var level slog.Level
	switch strings.ToLower(c.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry := schema.NewRegistry(logger)
	if err := registry.LoadDir(c.schemaDir); err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.NewStore(c.dataDir, &compressors.NoCompression{}, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, registry, logger, nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	dsName := fs.String("datastore", "running", "Datastore to export from")
	module := fs.String("module", "", "Module to export (required)")
	out := fs.String("out", "", "Output file, stdout when empty")
	fs.Parse(args)

	store, registry, _, err := c.open()
	if err != nil {
		return err
	}
	ds, err := core.ParseDatastore(*dsName)
	if err != nil {
		return err
	}
	if *module == "" {
		return fmt.Errorf("-module is required")
	}
	mod, err := registry.Module(*module)
	if err != nil {
		return err
	}
	t, _, err := store.Load(mod, ds)
	if err != nil {
		return err
	}
	doc, err := t.MarshalJSON()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(doc); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	dsName := fs.String("datastore", "startup", "Datastore to import into")
	module := fs.String("module", "", "Module to import (required)")
	in := fs.String("in", "", "Input file, stdin when empty")
	fs.Parse(args)

	store, registry, logger, err := c.open()
	if err != nil {
		return err
	}
	ds, err := core.ParseDatastore(*dsName)
	if err != nil {
		return err
	}
	if *module == "" {
		return fmt.Errorf("-module is required")
	}
	mod, err := registry.Module(*module)
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if *in != "" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	doc, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	t, err := tree.Unmarshal(mod, doc)
	if err != nil {
		return err
	}
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return err
	}

	// Take the commit lock so a live daemon and the import do not race.
	fl, err := store.LockModule(*module, ds, true)
	if err != nil {
		return err
	}
	defer fl.Release()

	rev, err := store.Persist(*module, ds, t)
	if err != nil {
		return err
	}
	logger.Info("Imported module.", "module", *module, "datastore", ds.String(), "revision", int64(rev))
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	dsName := fs.String("datastore", "running", "Datastore to validate")
	fs.Parse(args)

	store, registry, logger, err := c.open()
	if err != nil {
		return err
	}
	ds, err := core.ParseDatastore(*dsName)
	if err != nil {
		return err
	}

	failed := 0
	for _, name := range registry.Names() {
		mod, err := registry.Module(name)
		if err != nil {
			return err
		}
		t, _, err := store.Load(mod, ds)
		if err != nil {
			return err
		}
		if verr := t.Validate(); verr != nil {
			failed++
			logger.Error("Module is invalid.", "module", name, "datastore", ds.String(), "error", verr)
			continue
		}
		logger.Info("Module is valid.", "module", name, "datastore", ds.String())
	}
	if failed > 0 {
		return fmt.Errorf("%d module(s) failed validation", failed)
	}
	return nil
}

func runCopy(args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	var c commonFlags
	c.register(fs)
	srcName := fs.String("from", "running", "Source datastore")
	dstName := fs.String("to", "startup", "Target datastore")
	fs.Parse(args)

	store, registry, logger, err := c.open()
	if err != nil {
		return err
	}
	src, err := core.ParseDatastore(*srcName)
	if err != nil {
		return err
	}
	dst, err := core.ParseDatastore(*dstName)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("source and target datastore are both %s", src)
	}

	for _, name := range registry.Names() {
		mod, err := registry.Module(name)
		if err != nil {
			return err
		}
		t, _, err := store.Load(mod, src)
		if err != nil {
			return err
		}
		fl, err := store.LockModule(name, dst, true)
		if err != nil {
			return err
		}
		_, perr := store.Persist(name, dst, t)
		fl.Release()
		if perr != nil {
			return perr
		}
		logger.Info("Copied module.", "module", name, "from", src.String(), "to", dst.String())
	}
	return nil
}
