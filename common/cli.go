// Package common provides shared helpers for the taper command line
// tools.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// usageErrMarkers match errors the user can fix by correcting the
// invocation.  The first group comes out of cobra and pflag, the second
// out of the taper binaries' own config loading.
var usageErrMarkers = []string{
	"unknown flag:",
	"unknown shorthand flag:",
	"flag needs an argument:",
	"invalid argument",
	"unknown command",
	"required flag",
	"accepts",
	"arg(s), received",

	"failed to load config file",
	"failed to load relay config file",
	"config file must be specified",
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range usageErrMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ExecuteWithFang runs root under fang with the taper house options:
// the build version from the binary's VCS stamp, and an error handler
// that follows usage mistakes with the command synopsis.  On error the
// process exits nonzero.
func ExecuteWithFang(root *cobra.Command) {
	err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(usageErrorHandler(root)),
	)
	if err != nil {
		os.Exit(1)
	}
}

// usageErrorHandler renders the styled error and then decides what
// follows it: usage errors get the root command's synopsis, anything
// else a short pointer at --help.
func usageErrorHandler(root *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		fmt.Fprintln(w, styles.ErrorHeader.String())
		fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		fmt.Fprintln(w)

		if !isUsageError(err) {
			hint := lipgloss.JoinHorizontal(
				lipgloss.Left,
				styles.ErrorText.UnsetWidth().Render("Try"),
				styles.Program.Flag.Render("--help"),
				styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
			)
			fmt.Fprintln(w, hint)
			fmt.Fprintln(w)
			return
		}

		// The synopsis lands on stderr next to the error rather than on
		// stdout, so scripted callers never find help text mixed into
		// captured output.  The colorprofile writer downgrades styling
		// to whatever the terminal supports.
		uw := colorprofile.NewWriter(os.Stderr, os.Environ())
		fmt.Fprint(uw, root.UsageString())
	}
}
