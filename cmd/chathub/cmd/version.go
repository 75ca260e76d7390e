package cmd

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/nfrund/chathub/cmd/chathub/cmd.version=...".
var version = "0.1.0"

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the chathub version and build details",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "chathub v%s\n", version)
		if versionShort {
			return
		}
		writeBuildInfo(out)
	},
}

func writeBuildInfo(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "  go\t%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  brokers\tmemory, kafka, redis\n")
	fmt.Fprintf(w, "  stores\tmemory, surreal\n")

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var revision, when, dirty string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			when = s.Value
		case "vcs.modified":
			if s.Value == "true" {
				dirty = " (modified)"
			}
		}
	}
	if revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		fmt.Fprintf(w, "  commit\t%s%s\n", revision, dirty)
	}
	if when != "" {
		fmt.Fprintf(w, "  built\t%s\n", when)
	}
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
}
