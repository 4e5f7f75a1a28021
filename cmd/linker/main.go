// Command linker is the CLI surface for the static linker, its archive
// codec, and its ELF inspection utilities (spec §6).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coldironforge/linker/internal/arfmt"
	"github.com/coldironforge/linker/internal/elfobj"
	"github.com/coldironforge/linker/internal/inspector"
	"github.com/coldironforge/linker/internal/linkerr"
	"github.com/coldironforge/linker/internal/logx"
	"github.com/coldironforge/linker/internal/pipeline"
	"github.com/coldironforge/linker/internal/termcolor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		output          string
		libDirs         []string
		libs            []string
		libc            string
		gcSections      bool
		verbose         int
		vv, q           bool
		dumpSymbols     bool
		dumpRelocations bool
		traceResolve    bool
	)

	root := &cobra.Command{
		Use:   "linker [flags] input.o...",
		Short: "A self-contained ELF64 static linker",
		Long: `linker ingests ELF64 relocatable object files and ar-format static
archives, resolves symbols across them, lays out a single loadable
ELF64 executable image, applies relocations (synthesising a GOT/PLT
when a 32-bit PC-relative displacement overflows), and writes the
final ET_EXEC with program headers and an entry point.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logx.LevelWarn
			switch {
			case q:
				level = logx.LevelQuiet
			case vv || verbose >= 2:
				level = logx.LevelDebug
			case verbose >= 1:
				level = logx.LevelInfo
			}
			if traceResolve && level < logx.LevelDebug {
				level = logx.LevelDebug
			}
			log := logx.New(level)

			opts := pipeline.Options{
				Inputs: args, Output: output, LibDirs: libDirs, Libs: libs, Libc: libc,
				GCSections: gcSections, DumpSymbols: dumpSymbols, DumpRelocations: dumpRelocations,
				TraceResolve: traceResolve,
			}
			ctx := pipeline.New(opts, log)
			if err := pipeline.Link(ctx); err != nil {
				return reportAndExit(err)
			}
			return nil
		},
	}

	root.Flags().StringVarP(&output, "output", "o", "", "output executable path (required)")
	root.Flags().StringArrayVarP(&libDirs, "libdir", "L", nil, "add library search directory")
	root.Flags().StringArrayVarP(&libs, "lib", "l", nil, "link libNAME.a")
	root.Flags().StringVar(&libc, "libc", "cosmo", "libc backend: cosmo|system|mini (only cosmo is implemented)")
	root.Flags().BoolVar(&gcSections, "gc-sections", false, "enable dead-code elimination")
	root.Flags().CountVarP(&verbose, "verbose", "v", "verbose logging (-v info level, -vv debug level)")
	root.Flags().BoolVar(&vv, "vv", false, "very verbose (debug-level) logging")
	root.Flags().BoolVarP(&q, "quiet", "q", false, "errors only")
	root.Flags().BoolVar(&dumpSymbols, "dump-symbols", false, "dump the resolved symbol table to stderr")
	root.Flags().BoolVar(&dumpRelocations, "dump-relocations", false, "dump relocation counts to stderr")
	root.Flags().BoolVar(&traceResolve, "trace-resolve", false, "log every symbol resolution decision")
	root.MarkFlagRequired("output")

	root.AddCommand(newNmCmd(), newObjdumpCmd(), newStripCmd(), newArCmd())
	return root
}

// reportAndExit prints a linkerr.Error (or any error) to stderr in the
// format spec §7 describes and maps it to cobra's non-zero exit.
func reportAndExit(err error) error {
	msg := err.Error()
	var pe *os.PathError
	if errors.As(err, &pe) && pe.Op == "chmod" {
		fmt.Fprintln(os.Stderr, termcolor.Warn("warning:"), msg)
		return nil
	}
	if le, ok := err.(*linkerr.Error); ok && !le.Kind.Fatal() {
		fmt.Fprintln(os.Stderr, termcolor.Warn("warning:"), msg)
		return nil
	}
	fmt.Fprintln(os.Stderr, termcolor.Error("error:"), msg)
	return err
}

func newNmCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "nm <object.o>",
		Short: "List symbols from an object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := elfobj.Read(args[0])
			if err != nil {
				return err
			}
			entries := inspector.Nm(obj)
			var f inspector.NmFormat
			switch format {
			case "posix":
				f = inspector.NmFormatPOSIX
			case "sysv":
				f = inspector.NmFormatSysV
			default:
				f = inspector.NmFormatBSD
			}
			fmt.Print(inspector.FormatNm(entries, f))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "bsd", "output format: bsd|posix|sysv")
	return cmd
}

func newObjdumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objdump <object.o>",
		Short: "Dump sections, symbols, and relocations of an object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := elfobj.Read(args[0])
			if err != nil {
				return err
			}
			fmt.Print(inspector.Objdump(obj))
			return nil
		},
	}
}

func newStripCmd() *cobra.Command {
	var debugOnly bool
	var out string
	cmd := &cobra.Command{
		Use:   "strip <object.o>",
		Short: "Strip symbol/debug sections from an ELF file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return linkerr.Wrap(linkerr.IOError, err, "read input").WithFile(args[0])
			}
			policy := inspector.StripAll
			if debugOnly {
				policy = inspector.StripDebug
			}
			stripped, err := inspector.Strip(data, policy)
			if err != nil {
				return err
			}
			dest := out
			if dest == "" {
				dest = args[0]
			}
			if err := os.WriteFile(dest, stripped, 0644); err != nil {
				return linkerr.Wrap(linkerr.IOError, err, "write output").WithFile(dest)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debugOnly, "strip-debug", false, "drop only .debug*/.stab* sections")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: overwrite input)")
	return cmd
}

// arMemberDump is the shape ar t -v renders as YAML (SPEC_FULL §3).
type arMemberDump struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

func newArCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ar",
		Short: "Inspect and build ar-format static archives (t|x|d|rc)",
	}

	var verbose bool
	tCmd := &cobra.Command{
		Use:   "t <archive.a>",
		Short: "List archive members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := arfmt.Open(args[0])
			if err != nil {
				return err
			}
			if !verbose {
				for _, name := range a.List() {
					fmt.Println(name)
				}
				return nil
			}
			dump := make([]arMemberDump, len(a.Members))
			for i, m := range a.Members {
				dump[i] = arMemberDump{Name: m.Name, Size: len(m.Data)}
			}
			out, err := yaml.Marshal(dump)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	tCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list with sizes, as YAML")
	cmd.AddCommand(tCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "x <archive.a> [member...]",
		Short: "Extract members to the current directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := arfmt.Open(args[0])
			if err != nil {
				return err
			}
			names := args[1:]
			if len(names) == 0 {
				names = a.List()
			}
			for _, name := range names {
				data, err := a.Extract(name)
				if err != nil {
					return err
				}
				if err := os.WriteFile(name, data, 0644); err != nil {
					return linkerr.Wrap(linkerr.IOError, err, "write member").WithFile(name)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "d <archive.a> <member>...",
		Short: "Delete members from an archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := arfmt.Open(args[0])
			if err != nil {
				return err
			}
			out := a
			var data []byte
			for _, name := range args[1:] {
				data, err = arfmt.Delete(out, name)
				if err != nil {
					return err
				}
				out, err = arfmt.OpenBytes(data, args[0])
				if err != nil {
					return err
				}
			}
			tmp := args[0] + ".tmp"
			if err := os.WriteFile(tmp, data, 0644); err != nil {
				return linkerr.Wrap(linkerr.IOError, err, "write archive").WithFile(tmp)
			}
			if err := os.Rename(tmp, args[0]); err != nil {
				os.Remove(tmp)
				return linkerr.Wrap(linkerr.IOError, err, "replace archive").WithFile(args[0])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rc <archive.a> <member.o>...",
		Short: "Create an archive from object files",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var members []arfmt.Member
			for _, p := range args[1:] {
				data, err := os.ReadFile(p)
				if err != nil {
					return linkerr.Wrap(linkerr.IOError, err, "read member").WithFile(p)
				}
				members = append(members, arfmt.Member{Name: baseName(p), Data: data})
			}
			out := arfmt.Create(members)
			if err := os.WriteFile(args[0], out, 0644); err != nil {
				return linkerr.Wrap(linkerr.IOError, err, "write archive").WithFile(args[0])
			}
			return nil
		},
	})
	return cmd
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
