// Command uffsctl is a small demo/debug shell over a simulated flash
// partition, in the spirit of the teacher's cmd/demo_* binaries: enough
// to format, write and read files without a real NAND device attached.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rogerz/uffs/config"
	"github.com/rogerz/uffs/logger"
	"github.com/rogerz/uffs/mount"
	"github.com/rogerz/uffs/object"
	"github.com/rogerz/uffs/testutil/simflash"
)

const help = `
uffsctl - exercise a simulated flash-backed uffs partition

usage:
  uffsctl -put <src-local-file> <dst-path>
  uffsctl -cat <path>
  uffsctl -ls <dir-path>
  uffsctl -blocks=N -pagesize=N -pages=N   (partition geometry, applied to every run)
`

func main() {
	var (
		totalBlocks   = flag.Int("blocks", 64, "total erase blocks in the simulated partition")
		pageDataSize  = flag.Int("pagesize", 512, "page data size in bytes")
		pagesPerBlock = flag.Int("pages", 16, "pages per block")
		put           = flag.String("put", "", "local file to copy in")
		cat           = flag.String("cat", "", "path to print to stdout")
		ls            = flag.String("ls", "", "directory path to list")
		configPath    = flag.String("config", "", "path to a TOML config file overriding defaults")
	)
	flag.Parse()

	logger.Init(logger.Config{Level: "info"})

	cfg := config.Default()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Errorf("reading config: %v", err)
			os.Exit(1)
		}
		cfg, err = config.Load(data)
		if err != nil {
			logger.Errorf("loading config: %v", err)
			os.Exit(1)
		}
	}

	attrs := config.StorageAttrs{
		TotalBlocks:     *totalBlocks,
		PageDataSize:    *pageDataSize,
		PagesPerBlock:   *pagesPerBlock,
		BlockStatusOffs: 0,
		ECCOption:       cfg.ECCOption,
		LayoutOption:    cfg.LayoutOption,
	}

	driver := simflash.New(attrs)
	m, err := mount.Format(driver, attrs, cfg)
	if err != nil {
		logger.Errorf("format: %v", err)
		os.Exit(1)
	}
	fs := object.New(m)

	switch {
	case *put != "":
		if flag.NArg() < 1 {
			fmt.Fprintln(os.Stderr, help)
			os.Exit(2)
		}
		if err := doPut(fs, *put, flag.Arg(0)); err != nil {
			logger.Errorf("put: %v", err)
			os.Exit(1)
		}
	case *cat != "":
		if err := doCat(fs, *cat); err != nil {
			logger.Errorf("cat: %v", err)
			os.Exit(1)
		}
	case *ls != "":
		if err := doLs(fs, *ls); err != nil {
			logger.Errorf("ls: %v", err)
			os.Exit(1)
		}
	default:
		fmt.Print(help)
	}
}

func doPut(fs *object.FS, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f, err := fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func doCat(fs *object.FS, path string) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func doLs(fs *object.FS, path string) error {
	entries, err := fs.ReadDir(path)
	if err != nil {
		return err
	}
	for _, info := range entries {
		kind := "f"
		if info.IsDir {
			kind = "d"
		}
		fmt.Printf("%s\t%s\t%d bytes\n", kind, info.Name, info.Size)
	}
	return nil
}
