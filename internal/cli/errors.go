package cli

import (
	"fmt"
	"os"

	flowerrors "github.com/randalmurphal/autoflow/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// If the error is a FlowError, it uses the user-friendly format.
// Otherwise, it prints a simple error message.
func PrintError(err error) {
	if flowErr := flowerrors.AsFlowError(err); flowErr != nil {
		fmt.Fprintln(os.Stderr, render(os.Stderr, errorStyle, flowErr.UserMessage()))
		if verbose {
			// In verbose mode, also print the error code and cause
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", flowErr.Code)
			if flowErr.Stage != "" {
				fmt.Fprintf(os.Stderr, "Stage: %s\n", flowErr.Stage)
			}
			if flowErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", flowErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// ExitCode maps err to the process exit status: 0 for nil, the error
// category's code for a FlowError and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if flowErr := flowerrors.AsFlowError(err); flowErr != nil {
		return flowErr.Category().ExitCode()
	}
	return 1
}
