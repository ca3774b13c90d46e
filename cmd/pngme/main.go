package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flaneur2020/pngme/pngme"
	"github.com/flaneur2020/pngme/pngme/logger"
	"github.com/flaneur2020/pngme/pngme/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var (
	logLevel    = logLevelValue(logger.LogLevelError)
	verbose     bool
	noProgress  bool
	compress    bool
	passphrase  string
	removeAll   bool
	scanType    string
	concurrency int
)

// logLevelValue lets --log-level be parsed by pflag.
type logLevelValue logger.LogLevel

var _ pflag.Value = (*logLevelValue)(nil)

func (v *logLevelValue) String() string {
	return strings.ToLower(logger.LogLevel(*v).String())
}

func (v *logLevelValue) Set(s string) error {
	level, err := logger.ParseLogLevel(s)
	if err != nil {
		return err
	}
	*v = logLevelValue(level)
	return nil
}

func (v *logLevelValue) Type() string {
	return "level"
}

func main() {
	if env := os.Getenv("PNGME_LOG_LEVEL"); env != "" {
		if err := logLevel.Set(env); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring PNGME_LOG_LEVEL: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "pngme",
		Short: "Hide, reveal and remove messages in PNG chunks",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := logger.LogLevel(logLevel)
			if verbose && level < logger.LogLevelInfo {
				level = logger.LogLevelInfo
			}
			logger.SetLogLevel(level)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Var(&logLevel, "log-level", "Log level: silent, error, warn, info or debug")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (same as --log-level info)")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", os.Getenv("PNGME_PASSPHRASE"), "Passphrase used to seal and open messages (default $PNGME_PASSPHRASE)")

	// encode command
	encodeCmd := &cobra.Command{
		Use:   "encode <FILE> <CHUNK_TYPE> <MESSAGE> [OUTPUT]",
		Short: "Append a chunk carrying MESSAGE; writes to OUTPUT or back to FILE",
		Args:  cobra.RangeArgs(3, 4),
		Run:   runEncode,
	}
	encodeCmd.Flags().BoolVar(&compress, "compress", false, "Compress the message with zstd")

	// decode command
	decodeCmd := &cobra.Command{
		Use:   "decode <FILE> <CHUNK_TYPE>",
		Short: "Print the message of the first chunk of CHUNK_TYPE",
		Args:  cobra.ExactArgs(2),
		Run:   runDecode,
	}

	// remove command
	removeCmd := &cobra.Command{
		Use:   "remove <FILE> <CHUNK_TYPE>",
		Short: "Remove the first chunk of CHUNK_TYPE from FILE",
		Args:  cobra.ExactArgs(2),
		Run:   runRemove,
	}
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every chunk of CHUNK_TYPE")

	// print command
	printCmd := &cobra.Command{
		Use:   "print <FILE>",
		Short: "Print every chunk of FILE in order",
		Args:  cobra.ExactArgs(1),
		Run:   runPrint,
	}

	// scan command
	scanCmd := &cobra.Command{
		Use:   "scan <PATH>...",
		Short: "List PNG files (or directories of them) carrying a chunk type",
		Args:  cobra.MinimumNArgs(1),
		Run:   runScan,
	}
	scanCmd.Flags().StringVarP(&scanType, "type", "t", "", "Chunk type to look for")
	scanCmd.Flags().IntVar(&concurrency, "concurrency", pngme.DefaultConcurrency, "Number of files decoded at once")
	scanCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled on terminals)")
	_ = scanCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(encodeCmd, decodeCmd, removeCmd, printCmd, scanCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newMessenger() pngme.Messenger {
	return pngme.NewMessenger(storage.NewLocalStorage(""), pngme.Options{
		Compress:    compress,
		Passphrase:  passphrase,
		Concurrency: concurrency,
	})
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runEncode(cmd *cobra.Command, args []string) {
	file, chunkType, message := args[0], args[1], args[2]
	output := ""
	if len(args) > 3 {
		output = args[3]
	}

	if err := newMessenger().Encode(context.Background(), file, chunkType, message, output); err != nil {
		fail(err)
	}
	if output == "" {
		output = file
	}
	fmt.Printf("Encoded %d byte message as %s into %s\n", len(message), chunkType, output)
}

func runDecode(cmd *cobra.Command, args []string) {
	message, err := newMessenger().Decode(context.Background(), args[0], args[1])
	if err != nil {
		fail(err)
	}
	fmt.Println(message)
}

func runRemove(cmd *cobra.Command, args []string) {
	removed, err := newMessenger().Remove(context.Background(), args[0], args[1], removeAll)
	if err != nil {
		fail(err)
	}
	for _, c := range removed {
		fmt.Printf("Removed %s (%d bytes)\n", c.Type(), c.Length())
	}
}

func runPrint(cmd *cobra.Command, args []string) {
	infos, err := newMessenger().Print(context.Background(), args[0])
	if err != nil {
		fail(err)
	}

	for i, info := range infos {
		fmt.Printf("%d: %s (%d bytes, crc %08x)", i, info.Type, info.Length, info.CRC)
		switch {
		case info.IsText:
			fmt.Printf(": %q\n", info.Text)
		case info.Sealed:
			fmt.Printf(": <sealed message, %s>\n", info.Digest)
		default:
			fmt.Printf(": <%d bytes, %s>\n", info.Length, info.Digest)
		}
	}
}

func runScan(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	names, err := collectPNGs(args)
	if err != nil {
		fail(err)
	}
	if len(names) == 0 {
		fmt.Fprintf(os.Stderr, "No PNG files found in: %s\n", strings.Join(args, " "))
		os.Exit(1)
	}

	// Progress bar only makes sense on an interactive terminal
	showProgress := !noProgress && term.IsTerminal(int(os.Stderr.Fd()))

	var progressCallback pngme.ProgressCallback
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.Default(int64(len(names)), fmt.Sprintf("Scanning for %s", scanType))
		progressCallback = func(current, total int64) {
			bar.Set64(current)
		}
	}

	results, err := newMessenger().Scan(ctx, names, scanType, progressCallback)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		fail(err)
	}

	var matched, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			logger.Warn("%s: %v", r.Name, r.Err)
		case r.Count > 0:
			matched++
			fmt.Printf("%s: %d %s chunk(s) (%s)\n", r.Name, r.Count, scanType, r.Digest)
		}
	}

	fmt.Printf("Scanned %d files, %d carry %s", len(results), matched, scanType)
	if failed > 0 {
		fmt.Printf(" (%d failed)", failed)
	}
	fmt.Println()
}

// collectPNGs expands directories into the .png files below them.
func collectPNGs(paths []string) ([]string, error) {
	var names []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			names = append(names, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".png") {
				names = append(names, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return names, nil
}
