package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/akmistry/snaptar/internal/app/snaptar"
	"github.com/akmistry/snaptar/internal/archive"
	"github.com/akmistry/snaptar/internal/storage"
	"github.com/akmistry/snaptar/internal/storage/cloud"
	"github.com/akmistry/snaptar/internal/storage/local"
	"github.com/akmistry/snaptar/internal/util"
)

var (
	verboseFlag = flag.Bool("verbose", false, "Verbose logging")
	listFlag    = flag.Bool("list", false, "List the contents of an archive")

	blobstoreFlag     = flag.String("blobstore", "", "URL for blob storage backend (default $SNAPTAR_BLOBSTORE)")
	outDirFlag        = flag.String("out-dir", "", "Directory for archives when no blobstore is set (default $SNAPTAR_OUT_DIR or .)")
	cacheDirFlag      = flag.String("cache-dir", "", "Directory for blob staging and cache")
	blobCacheSizeFlag = flag.String("blob-cache-size", "1G", "Size of blob cache")

	compressFlag   = flag.String("compress", "none", "Compression: none, gzip, zstd, xz or lz4")
	bufferSizeFlag = flag.String("buffer-size", "128K", "Copy buffer size")
	indexFlag      = flag.Bool("index", true, "Write a sidecar index")

	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
)

const (
	envBlobstore = "SNAPTAR_BLOBSTORE"
	envOutDir    = "SNAPTAR_OUT_DIR"
)

func usage() {
	fmt.Fprintln(flag.CommandLine.Output(), "Usage: snaptar [flags] <ARCHIVE_NAME> <SOURCE_DIR>")
	fmt.Fprintln(flag.CommandLine.Output(), "       snaptar -list [flags] <ARCHIVE_NAME>")
	flag.PrintDefaults()
}

func openBlobStore() (storage.BlobStore, error) {
	blobstore := *blobstoreFlag
	if blobstore == "" {
		blobstore = os.Getenv(envBlobstore)
	}
	if blobstore != "" {
		var stagingDir, cacheDir string
		var cacheSize uint64
		if *cacheDirFlag != "" {
			var err error
			cacheSize, err = snaptar.ParseSizeString(*blobCacheSizeFlag)
			if err != nil {
				return nil, fmt.Errorf("invalid blob cache size %s: %w", *blobCacheSizeFlag, err)
			}
			stagingDir = filepath.Join(*cacheDirFlag, "staging")
			cacheDir = filepath.Join(*cacheDirFlag, "blob-cache")
		}
		return cloud.NewBlobStore(blobstore, stagingDir, cacheDir, int64(cacheSize))
	}

	outDir := *outDirFlag
	if outDir == "" {
		outDir = os.Getenv(envOutDir)
	}
	if outDir == "" {
		outDir = "."
	}
	return local.NewBlobStore(outDir)
}

func writeArchive(ctx context.Context, bs storage.BlobStore, name, srcDir string, opts archive.Options) error {
	// Cancelled on any failure, so a partial archive is never committed.
	ctx, abort := context.WithCancel(ctx)
	defer abort()

	blobName := snaptar.ArchiveBlobName(name, opts.Compression)
	bw, err := bs.Create(ctx, blobName)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", blobName, err)
	}
	aw, err := archive.NewWriter(bw, opts)
	if err != nil {
		abort()
		bw.Close()
		return err
	}

	summary, err := aw.AddTree(ctx, srcDir)
	if err == nil {
		err = aw.Close()
	}
	if err != nil {
		abort()
		bw.Close()
		return err
	}
	err = bw.Close()
	if err != nil {
		return fmt.Errorf("error committing %s: %w", blobName, err)
	}
	slog.Info("Archive written",
		"blob", blobName,
		"files", summary.Files,
		"bytes", util.DetailedBytes(summary.Bytes),
		"skipped", summary.Skipped)

	if x := aw.Index(); x != nil {
		for _, e := range x.PaddedEntries() {
			slog.Warn("File was truncated while archiving",
				"name", e.Name, "size", e.Size, "padded", e.Padded)
		}
		indexName := snaptar.IndexBlobName(name)
		iw, err := bs.Create(ctx, indexName)
		if err != nil {
			return fmt.Errorf("error creating %s: %w", indexName, err)
		}
		_, err = x.WriteTo(iw)
		if err != nil {
			abort()
			iw.Close()
			return fmt.Errorf("error writing %s: %w", indexName, err)
		}
		err = iw.Close()
		if err != nil {
			return fmt.Errorf("error committing %s: %w", indexName, err)
		}
		slog.Info("Index written", "blob", indexName, "id", x.ID)
	}
	return nil
}

func readIndex(bs storage.BlobStore, name string) (*archive.Index, error) {
	r, err := bs.Open(snaptar.IndexBlobName(name))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return archive.ReadIndex(util.NewBlobStream(r))
}

func listArchive(bs storage.BlobStore, name string, c archive.Compression) error {
	padded := make(map[string]int64)
	x, err := readIndex(bs, name)
	if errors.Is(err, storage.ErrBlobNotFound) {
		slog.Debug("No index found", "name", name)
	} else if err != nil {
		slog.Warn("Unable to read index", "name", name, "error", err)
	} else {
		c = x.Compression
		for _, e := range x.PaddedEntries() {
			padded[e.Name] = e.Padded
		}
	}

	blobName := snaptar.ArchiveBlobName(name, c)
	r, err := bs.Open(blobName)
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := archive.List(util.NewBlobStream(r), c)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, e := range entries {
		note := ""
		if p, ok := padded[e.Name]; ok {
			note = fmt.Sprintf(" (truncated, %d bytes padded)", p)
		} else if e.Linkname != "" {
			note = " -> " + e.Linkname
		}
		fmt.Fprintf(tw, "%s\t%d\t %s%s\t\n", e.Mode, e.Size, e.Name, note)
	}
	return tw.Flush()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *verboseFlag {
		slog.SetDefault(slog.New(slog.NewTextHandler(
			os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	wantArgs := 2
	if *listFlag {
		wantArgs = 1
	}
	if flag.NArg() != wantArgs {
		usage()
		os.Exit(1)
	}
	name := flag.Arg(0)
	if err := snaptar.CheckArchiveName(name); err != nil {
		log.Printf("Invalid archive name %q: %v", name, err)
		os.Exit(1)
	}

	compression, err := archive.ParseCompression(*compressFlag)
	if err != nil {
		log.Printf("Invalid compress flag: %v", err)
		os.Exit(1)
	}
	bufferSize, err := snaptar.ParseSizeString(*bufferSizeFlag)
	if err != nil || bufferSize == 0 || bufferSize > 1<<30 {
		log.Printf("Invalid buffer size flag: %s", *bufferSizeFlag)
		os.Exit(1)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	bs, err := openBlobStore()
	if err != nil {
		log.Printf("Error opening blob store: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listFlag {
		err = listArchive(bs, name, compression)
	} else {
		opts := archive.Options{
			Compression:  compression,
			BufferSize:   int(bufferSize),
			DisableIndex: !*indexFlag,
		}
		err = writeArchive(ctx, bs, name, flag.Arg(1), opts)
	}
	if err != nil {
		log.Printf("snaptar: %v", err)
		stop()
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}
